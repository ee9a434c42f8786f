package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/similarity"
)

var corpusPath string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the similarity index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the similarity index from the built-in and configured corpus",
	Long: `Rebuild embeds the built-in malicious corpus plus the configured snippets
and writes the compressed index to similarity.index_path.

  sentinelctl index rebuild
  sentinelctl index rebuild --corpus extra.yaml`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

func init() {
	indexRebuildCmd.Flags().StringVar(&corpusPath, "corpus", "", "corpus YAML to use instead of the configured one")
	indexCmd.AddCommand(indexRebuildCmd)
	rootCmd.AddCommand(indexCmd)
}

type rebuildSummary struct {
	Entries  int    `json:"entries"`
	Embedder string `json:"embedder"`
	Dim      int    `json:"dim"`
	Path     string `json:"path"`
}

func runIndexRebuild(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	cfg, corpus, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if corpusPath != "" {
		corpus = &config.CorpusConfig{}
		if err := config.LoadFile(corpusPath, corpus); err != nil {
			return err
		}
	}
	if cfg.Similarity.IndexPath == "" {
		return errors.New("similarity.index_path is empty, nothing to write")
	}

	emb, err := similarity.NewEmbedder(cfg.Similarity)
	if err != nil {
		return err
	}
	det := similarity.NewDetector(
		emb,
		func() config.SimilarityConfig { return cfg.Similarity },
		func() []similarity.Snippet { return similarity.CorpusFromConfig(corpus) },
		logger,
	)
	ix, err := det.Rebuild(scanContext(cmd))
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	// Rebuild only logs a failed write; confirm the file is readable.
	saved, err := similarity.Load(cfg.Similarity.IndexPath)
	if err != nil {
		return fmt.Errorf("verify index: %w", err)
	}
	if !saved.BuiltAt.Equal(ix.BuiltAt) {
		return fmt.Errorf("index at %s was not replaced", cfg.Similarity.IndexPath)
	}

	sum := rebuildSummary{Entries: ix.Len(), Embedder: ix.Embedder, Dim: ix.Dim, Path: cfg.Similarity.IndexPath}
	if pretty() {
		fmt.Fprintf(ioOut, "Indexed %d snippets (%s, dim %d) into %s\n", sum.Entries, sum.Embedder, sum.Dim, sum.Path)
		return nil
	}
	return writeJSON(ioOut, sum)
}
