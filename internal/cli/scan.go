package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/types"
)

var (
	scanDirection string
	scanKind      string
)

var scanCmd = &cobra.Command{
	Use:   "scan [file|-]",
	Short: "Scan one file or stdin",
	Long: `Scan runs every enabled layer over a single input and prints the report.
Reads stdin when the argument is "-" or omitted. Exits with status 2 when the
input is flagged.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanDirection, "direction", "output", "prompt or output")
	scanCmd.Flags().StringVar(&scanKind, "kind", "", "code or text (default: detect)")
	rootCmd.AddCommand(scanCmd)
}

// ErrFlagged is returned by scan when the input is flagged.
var ErrFlagged = errors.New("input flagged")

func runScan(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	text, err := readInput(path)
	if err != nil {
		return err
	}

	logger := newLogger()
	stack, _, err := buildStack(logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	req := scan.Request{Text: text, Direction: types.Direction(scanDirection), Kind: scanKind}
	if path != "-" {
		req.Filename = path
	}
	rep, err := stack.Service.Scan(scanContext(cmd), req)
	if err != nil {
		return err
	}

	if pretty() {
		printReport(ioOut, rep)
	} else if err := writeJSON(ioOut, rep); err != nil {
		return err
	}
	if rep.Blocking() {
		cmd.SilenceErrors = true
		return ErrFlagged
	}
	return nil
}

func readInput(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(ioIn)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep scan.Report) {
	verdict := "clean"
	if rep.Blocking() {
		verdict = "FLAGGED"
	}
	fmt.Fprintf(w, "\n  %s  label=%s  fused=%.2f  (%.1f ms)\n", verdict, rep.Label, rep.FusedScore, rep.ProcessingMs)
	if rep.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", rep.Reason)
	}
	if len(rep.Actions) > 0 {
		fmt.Fprintf(w, "  actions: %s\n", strings.Join(rep.Actions, ", "))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  LAYER\tFLAGGED\tRISK\tREASON")
	res := rep.SentinelResult
	for _, layer := range types.Layers {
		lr, _ := res.Layer(layer)
		fmt.Fprintf(tw, "  %s\t%v\t%s\t%s\n", layer, lr.Flagged, lr.Category, types.Clip(lr.Reason, 80))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

// scanContext is the command context, or background when run outside cobra.
func scanContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
