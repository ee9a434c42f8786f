package tracer

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/sentinel-gate/internal/config"
)

const sampleTrace = `execve("/usr/bin/python3", ["python3", "x.py"], 0x7ffd /* 20 vars */) = 0
openat(AT_FDCWD, "/etc/ld.so.cache", O_RDONLY|O_CLOEXEC) = 3
unlink("/tmp/db.sqlite3")               = 0
+++ exited with 0 +++
`

func TestParseSyscalls(t *testing.T) {
	got := ParseSyscalls(sampleTrace)
	want := []string{"execve", "openat", "unlink"}
	if len(got) != len(want) {
		t.Fatalf("ParseSyscalls() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("syscall[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

const benignStartup = `execve("/usr/bin/python3", ["python3", "x.py"], 0x7ffd /* 20 vars */) = 0
openat(AT_FDCWD, "/etc/ld.so.cache", O_RDONLY|O_CLOEXEC) = 3
openat(AT_FDCWD, "/usr/lib/python3.12/encodings/__init__.py", O_RDONLY|O_CLOEXEC) = 3
openat(AT_FDCWD, "/tmp/x.py", O_RDONLY|O_CLOEXEC) = 3
+++ exited with 0 +++
`

func TestScore(t *testing.T) {
	const interp = `execve("/usr/bin/python3", ["python3", "x.py"], ...) = 0` + "\n"
	tests := []struct {
		name        string
		raw         string
		wantScore   float64
		destructive bool
	}{
		{"empty", "", 0, false},
		{"benign startup", benignStartup, 0, false},
		{"interpreter only", interp, 0, false},
		{"child exec", interp + `execve("/usr/bin/ls", ["ls"], ...) = 0`, 0.2, false},
		{"exec plus delete", interp + `execve("/usr/bin/ls", ["ls"], ...) = 0` + "\n" + `unlink("/tmp/a") = 0`, 0.55, false},
		{"two deletes", interp + `unlink("/tmp/a") = 0` + "\n" + `rmdir("/tmp/b") = 0`, 0.7, true},
		{"write open", interp + `openat(AT_FDCWD, "/etc/passwd", O_WRONLY|O_TRUNC) = 3`, 0.35, false},
		{"create and rdwr", `open("/data/db", O_RDWR) = 3` + "\n" + `openat(AT_FDCWD, "out", O_WRONLY|O_CREAT|O_CLOEXEC, 0666) = 4`, 0.7, true},
		{"rm binary", interp + `execve("/bin/rm", ["rm", "-rf", "/data"], ...) = 0`, 0.8, true},
		{"capped", strings.Repeat(`unlink("/tmp/a") = 0`+"\n", 4), 1.0, true},
		{"psql and mysql", `execve("/usr/bin/psql", ...)` + "\n" + `execve("/usr/bin/mysql", ...)`, 1.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Score(tt.raw)
			if diff := rep.Score - tt.wantScore; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score = %v, want %v (findings %+v)", rep.Score, tt.wantScore, rep.Findings)
			}
			if rep.Destructive != tt.destructive {
				t.Errorf("Destructive = %v, want %v", rep.Destructive, tt.destructive)
			}
		})
	}
}

func TestScore_RmWordBoundary(t *testing.T) {
	rep := Score(`execve("/usr/bin/rmdir_helper", ...) = 0`)
	if rep.Score != 0 {
		t.Errorf("rmdir_helper should not match rm, got score %v", rep.Score)
	}
}

func TestTracePID(t *testing.T) {
	if got := tracePID("/tmp/sentinel-1.py.strace.1042"); got != 1042 {
		t.Errorf("tracePID = %d, want 1042", got)
	}
	if got := tracePID("/tmp/sentinel-1.py.strace"); got != math.MaxInt {
		t.Errorf("tracePID without suffix = %d, want MaxInt", got)
	}
}

func TestRunCleansUpAndTimesOut(t *testing.T) {
	if _, err := exec.LookPath("strace"); err != nil {
		t.Skip("strace not installed")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	dir := t.TempDir()
	cfg := config.RuntimeConfig{
		Enabled:     true,
		StracePath:  "strace",
		Interpreter: "python3",
		Timeout:     500 * time.Millisecond,
		TempDir:     dir,
	}
	r := NewRunner(func() config.RuntimeConfig { return cfg }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tr, err := r.Run(context.Background(), "import time\ntime.sleep(5)\n")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, filepath.Join(dir, e.Name()))
		}
		t.Errorf("temp files left behind: %v", names)
	}

	if !tr.TimedOut {
		t.Skipf("strace could not trace in this environment: %s", tr.Stderr)
	}
	if len(tr.Syscalls) != 1 || tr.Syscalls[0] != TimeoutMarker {
		t.Errorf("expected TIMEOUT trace, got %+v", tr)
	}
}
