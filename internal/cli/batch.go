package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/af-corp/sentinel-gate/internal/codeanalysis"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/types"
)

const maxLineBytes = 4 << 20

var (
	batchInput   string
	batchOutput  string
	batchWorkers int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Scan a JSONL file of code snippets",
	Long: `Batch reads one {"id": ..., "code": "..."} object per line and writes one
{"id": ..., "result": {...}} line per input, in input order. Lines that fail
are written as {"error": "...", "line": "..."}.

  sentinelctl batch --input samples.jsonl --output results.jsonl`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "JSONL input path, - for stdin (required)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "results.jsonl", "JSONL output path, - for stdout")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 4, "snippets scanned concurrently")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

type batchItem struct {
	ID   json.RawMessage `json:"id"`
	Code string          `json:"code"`
}

type batchLine struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result *scan.Report    `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Line   string          `json:"line,omitempty"`
}

func runBatch(cmd *cobra.Command, _ []string) error {
	in, err := openInput(batchInput)
	if err != nil {
		return err
	}
	defer in.Close()

	lines, err := readLines(in)
	if err != nil {
		return err
	}

	logger := newLogger()
	stack, _, err := buildStack(logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	results := scanBatch(scanContext(cmd), stack.Service, lines, batchWorkers)

	out, err := openOutput(batchOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	flagged := 0
	for _, r := range results {
		if r.Result != nil && r.Result.Blocking() {
			flagged++
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if batchOutput != "-" {
		fmt.Fprintf(ioErr, "Done. %d snippets, %d flagged. Results written to %s\n", len(results), flagged, batchOutput)
	}
	return nil
}

// scanBatch scans every line with at most workers in flight and returns the
// results in input order.
func scanBatch(ctx context.Context, svc *scan.Service, lines [][]byte, workers int) []batchLine {
	results := make([]batchLine, len(lines))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, line := range lines {
		g.Go(func() error {
			results[i] = scanLine(ctx, svc, line)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func scanLine(ctx context.Context, svc *scan.Service, line []byte) batchLine {
	var item batchItem
	if err := json.Unmarshal(line, &item); err != nil {
		return batchLine{Error: err.Error(), Line: string(line)}
	}
	rep, err := svc.Scan(ctx, scan.Request{Text: item.Code, Direction: types.DirectionOutput, Kind: codeanalysis.KindCode})
	if err != nil {
		return batchLine{ID: item.ID, Error: err.Error(), Line: string(line)}
	}
	return batchLine{ID: item.ID, Result: &rep}
}

func readLines(r io.Reader) ([][]byte, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var lines [][]byte
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(ioIn), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{ioOut}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}
