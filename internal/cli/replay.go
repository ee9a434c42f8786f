package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/types"
	"github.com/af-corp/sentinel-gate/internal/workflow"
)

var (
	replayPrompt string
	replaySteps  string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded agent steps through the workflow guard",
	Long: `Replay feeds a prompt and a JSONL file of recorded agent outputs through the
workflow guard, one node per line, and prints the resulting execution.
Each line is {"agent": "Coder", "output": {"code": "..."}}. The run stops
at the first blocked step, as a live workflow would.

  sentinelctl replay --prompt "Write a backup script" --steps run.jsonl`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayPrompt, "prompt", "", "user prompt that started the run (required)")
	replayCmd.Flags().StringVar(&replaySteps, "steps", "", "JSONL file of agent outputs, - for stdin (required)")
	_ = replayCmd.MarkFlagRequired("prompt")
	_ = replayCmd.MarkFlagRequired("steps")
	rootCmd.AddCommand(replayCmd)
}

type recordedStep struct {
	Agent  string         `json:"agent"`
	Output workflow.State `json:"output"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	in, err := openInput(replaySteps)
	if err != nil {
		return err
	}
	defer in.Close()
	lines, err := readLines(in)
	if err != nil {
		return err
	}
	nodes, err := replayNodes(lines)
	if err != nil {
		return err
	}

	logger := newLogger()
	stack, cfg, err := buildStack(logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	exec, err := replay(scanContext(cmd), stack, cfg, nodes)
	if exec == nil {
		return err
	}
	if pretty() {
		printExecution(exec)
	} else if werr := writeJSON(ioOut, exec); werr != nil {
		return werr
	}
	if errors.Is(err, workflow.ErrHalted) {
		cmd.SilenceErrors = true
		return ErrFlagged
	}
	return err
}

func replayNodes(lines [][]byte) ([]workflow.Node, error) {
	nodes := make([]workflow.Node, 0, len(lines))
	for i, line := range lines {
		var step recordedStep
		if err := json.Unmarshal(line, &step); err != nil {
			return nil, fmt.Errorf("steps line %d: %w", i+1, err)
		}
		if step.Agent == "" {
			return nil, fmt.Errorf("steps line %d: agent is required", i+1)
		}
		out := step.Output
		nodes = append(nodes, workflow.Node{
			Name: step.Agent,
			Run:  func(context.Context, workflow.State) (workflow.State, error) { return out, nil },
		})
	}
	return nodes, nil
}

// replay runs nodes against an in-memory ledger. The execution is returned
// whenever the guard recorded one, including after a halt.
func replay(ctx context.Context, stack *scan.Stack, cfg *config.Config, nodes []workflow.Node) (*ledger.Execution, error) {
	logger := newLogger()
	l := ledger.New(ledger.NewMemoryStore(), func() config.LedgerConfig { return cfg.Ledger }, ledger.Deps{Redact: scan.Redact}, logger)
	guard := workflow.NewGuard(stack.Service, l, stack.Validator, func() config.WorkflowConfig { return config.WorkflowConfig{} }, logger)

	_, runErr := workflow.NewEngine(nodes, logger, guard).Run(ctx, replayPrompt, nil)
	if guard.ExecutionID() == "" {
		return nil, runErr
	}
	exec, err := l.Get(ctx, guard.ExecutionID())
	if err != nil {
		return nil, errors.Join(runErr, err)
	}
	return exec, runErr
}

func printExecution(e *ledger.Execution) {
	fmt.Fprintf(ioOut, "\n  %s  status=%s  action=%s  risk=%s\n\n", e.ID, e.Status, e.OverallAction, e.OverallRisk)
	fmt.Fprintf(ioOut, "  %-12s %-9s %s\n", ledger.PromptAgent, actionOf(e.SentinelResult.AnyFlagged()), flaggedLayers(e.SentinelResult))
	for _, s := range e.Agents {
		fmt.Fprintf(ioOut, "  %-12s %-9s %s\n", s.AgentName, s.Action, flaggedLayers(s.SentinelResult))
	}
	fmt.Fprintln(ioOut)
}

func actionOf(flagged bool) ledger.Action {
	if flagged {
		return ledger.ActionBlocked
	}
	return ledger.ActionAllowed
}

func flaggedLayers(res types.SentinelResult) string {
	var parts []string
	for _, layer := range types.Layers {
		lr, _ := res.Layer(layer)
		if lr.Flagged {
			parts = append(parts, fmt.Sprintf("%s:%s", layer, lr.Category))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}
