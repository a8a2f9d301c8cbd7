package processor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestRunner(timeout time.Duration) *ExecRunner {
	return NewExecRunner("", timeout).WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunner_Success(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	var log bytes.Buffer

	err := newTestRunner(0).Run(context.Background(), Stage{
		Name:    "write",
		Command: "sh",
		Args:    []string{"-c", "echo hello > out.txt; echo done"},
		Dir:     dir,
		Log:     &log,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("stage did not run in its directory: %v", err)
	}
	if strings.TrimSpace(string(data)) != "hello" {
		t.Errorf("unexpected file contents %q", data)
	}
	if !strings.Contains(log.String(), "$ sh -c") {
		t.Errorf("expected command line in log, got %q", log.String())
	}
	if !strings.Contains(log.String(), "done") {
		t.Errorf("expected command output in log, got %q", log.String())
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)

	err := newTestRunner(0).Run(context.Background(), Stage{
		Name:    "interf_pwr_step0",
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		Dir:     t.TempDir(),
	})
	if !errors.Is(err, ErrExternalStageFailed) {
		t.Fatalf("expected ErrExternalStageFailed, got %v", err)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if stageErr.Stage != "interf_pwr_step0" {
		t.Errorf("expected stage name, got %s", stageErr.Stage)
	}
	if stageErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", stageErr.ExitCode)
	}
}

func TestExecRunner_StdoutRedirect(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()

	err := newTestRunner(0).Run(context.Background(), Stage{
		Name:    "base_init",
		Command: "sh",
		Args:    []string{"-c", "echo baseline"},
		Dir:     dir,
		Stdout:  "baseline.log",
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "baseline.log"))
	if err != nil {
		t.Fatalf("stdout file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != "baseline" {
		t.Errorf("unexpected stdout contents %q", data)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	skipWithoutShell(t)

	err := newTestRunner(50*time.Millisecond).Run(context.Background(), Stage{
		Name:    "slow",
		Command: "sh",
		Args:    []string{"-c", "exec sleep 5"},
		Dir:     t.TempDir(),
	})
	if !errors.Is(err, ErrExternalStageFailed) {
		t.Fatalf("expected ErrExternalStageFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
}

func TestExecRunner_RelativeDirRejected(t *testing.T) {
	err := newTestRunner(0).Run(context.Background(), Stage{
		Name:    "rel",
		Command: "true",
		Dir:     "relative/dir",
	})
	if !errors.Is(err, ErrExternalStageFailed) {
		t.Errorf("expected ErrExternalStageFailed, got %v", err)
	}
}

func TestExecRunner_MissingCommand(t *testing.T) {
	err := newTestRunner(0).Run(context.Background(), Stage{
		Name:    "missing",
		Command: "definitely-not-a-real-gamma-tool",
		Dir:     t.TempDir(),
	})
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %v", err)
	}
	if stageErr.ExitCode != -1 {
		t.Errorf("expected exit code -1 for a missing binary, got %d", stageErr.ExitCode)
	}
}

func TestExecRunner_Resolve(t *testing.T) {
	r := NewExecRunner("/opt/gamma/bin", 0)
	if got := r.resolve("base_init"); got != filepath.Join("/opt/gamma/bin", "base_init") {
		t.Errorf("expected bin dir prefix, got %s", got)
	}
	if got := r.resolve("/usr/bin/xsltproc"); got != "/usr/bin/xsltproc" {
		t.Errorf("expected absolute command unchanged, got %s", got)
	}
}
