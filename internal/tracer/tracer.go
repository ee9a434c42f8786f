// Package tracer runs a snippet under strace and scores the syscalls it
// makes. It executes untrusted code and is off unless explicitly enabled.
package tracer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/af-corp/sentinel-gate/internal/config"
)

// TimeoutMarker is the whole syscall sequence of a run that hit its deadline.
const TimeoutMarker = "TIMEOUT"

// DestructiveCutoff is the score at which a run counts as destructive.
const DestructiveCutoff = 0.7

var (
	deleteSyscalls = map[string]bool{
		"unlink": true, "unlinkat": true, "rmdir": true, "rename": true, "renameat": true,
		"truncate": true, "ftruncate": true,
	}
	// open and openat only count when they can modify the file.
	openSyscalls = map[string]bool{"open": true, "openat": true}
	writeFlags   = regexp.MustCompile(`\bO_(WRONLY|RDWR|CREAT|TRUNC)\b`)
	syscallLine  = regexp.MustCompile(`^\s*([a-zA-Z0-9_]+)\(`)
	execBinary  = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"rm", regexp.MustCompile(`execve\(.+?/rm\b`)},
		{"psql", regexp.MustCompile(`execve\(.+?/psql\b`)},
		{"mysql", regexp.MustCompile(`execve\(.+?/mysql\b`)},
	}
)

// Trace is the raw outcome of one traced run.
type Trace struct {
	Syscalls []string `json:"-"`
	Raw      string   `json:"-"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	TimedOut bool     `json:"timed_out"`
}

// Finding is one scored observation.
type Finding struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// Report is the scored trace.
type Report struct {
	Findings    []Finding `json:"findings,omitempty"`
	Score       float64   `json:"score"`
	Destructive bool      `json:"destructive"`
	SyscallN    int       `json:"syscalls"`
	ExitCode    int       `json:"exit_code"`
	TimedOut    bool      `json:"timed_out"`
}

// Runner executes snippets under strace.
type Runner struct {
	cfg    func() config.RuntimeConfig
	logger *slog.Logger
}

func NewRunner(cfg func() config.RuntimeConfig, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Enabled reports whether runtime tracing is switched on.
func (r *Runner) Enabled() bool { return r.cfg().Enabled }

// Analyze runs code and scores the trace.
func (r *Runner) Analyze(ctx context.Context, code string) (Report, error) {
	tr, err := r.Run(ctx, code)
	if err != nil {
		return Report{}, err
	}
	rep := Score(tr.Raw)
	rep.SyscallN = len(tr.Syscalls)
	rep.ExitCode = tr.ExitCode
	rep.TimedOut = tr.TimedOut
	return rep, nil
}

// Run writes code to a temp script and executes it under strace in its own
// process group. A deadline yields the TIMEOUT sequence rather than an
// error. The script and every trace file are removed before returning.
func (r *Runner) Run(ctx context.Context, code string) (Trace, error) {
	cfg := r.cfg()
	script, err := os.CreateTemp(cfg.TempDir, "sentinel-*.py")
	if err != nil {
		return Trace{}, fmt.Errorf("create temp script: %w", err)
	}
	scriptPath := script.Name()
	logPrefix := scriptPath + ".strace"
	defer cleanup(scriptPath, logPrefix, r.logger)

	if _, err := script.WriteString(code); err != nil {
		script.Close()
		return Trace{}, fmt.Errorf("write temp script: %w", err)
	}
	if err := script.Close(); err != nil {
		return Trace{}, fmt.Errorf("close temp script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.StracePath,
		"-ff", "-e", "trace=network,process,file", "-o", logPrefix,
		cfg.Interpreter, scriptPath)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd)

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		return Trace{Syscalls: []string{TimeoutMarker}, ExitCode: -1, Stderr: "Timeout", TimedOut: true}, nil
	}

	tr := Trace{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		tr.ExitCode = exitErr.ExitCode()
	default:
		return Trace{}, fmt.Errorf("run strace: %w", runErr)
	}

	raw, err := readTraces(logPrefix)
	if err != nil {
		return Trace{}, err
	}
	tr.Raw = raw
	tr.Syscalls = ParseSyscalls(raw)
	return tr, nil
}

// readTraces concatenates every per-process trace file written for prefix,
// lowest pid first so the traced interpreter leads.
func readTraces(prefix string) (string, error) {
	matches, err := filepath.Glob(prefix + "*")
	if err != nil {
		return "", fmt.Errorf("glob traces: %w", err)
	}
	slices.SortFunc(matches, func(a, b string) int { return cmp.Compare(tracePID(a), tracePID(b)) })
	var b strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// tracePID returns the pid suffix strace -ff appends to a trace file name.
func tracePID(path string) int {
	pid, err := strconv.Atoi(path[strings.LastIndexByte(path, '.')+1:])
	if err != nil {
		return math.MaxInt
	}
	return pid
}

func cleanup(scriptPath, logPrefix string, logger *slog.Logger) {
	if err := os.Remove(scriptPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp script", "path", scriptPath, "error", err)
	}
	matches, _ := filepath.Glob(logPrefix + "*")
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove trace file", "path", m, "error", err)
		}
	}
}

// ParseSyscalls extracts the syscall name at the start of each trace line.
func ParseSyscalls(raw string) []string {
	var seq []string
	for _, line := range strings.Split(raw, "\n") {
		if m := syscallLine.FindStringSubmatch(line); m != nil {
			seq = append(seq, m[1])
		}
	}
	return seq
}

// Score weighs destructive file syscalls, execs and execs of known
// dangerous binaries, capped at 1. The first execve is the interpreter
// starting the script and is not counted.
func Score(raw string) Report {
	var rep Report
	score := 0.0
	interpreter := true
	for _, line := range strings.Split(raw, "\n") {
		m := syscallLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		s := m[1]
		rep.SyscallN++
		switch {
		case deleteSyscalls[s], openSyscalls[s] && writeFlags.MatchString(line):
			rep.Findings = append(rep.Findings, Finding{Kind: "syscall", Name: s})
			score += 0.35
		case s == "execve" && interpreter:
			interpreter = false
		case s == "execve":
			rep.Findings = append(rep.Findings, Finding{Kind: "exec", Name: s})
			score += 0.2
		}
	}
	for _, b := range execBinary {
		if b.re.MatchString(raw) {
			rep.Findings = append(rep.Findings, Finding{Kind: "exec_binary", Name: b.name})
			score += 0.6
		}
	}
	rep.Score = min(score, 1.0)
	rep.Destructive = rep.Score >= DestructiveCutoff
	return rep
}
