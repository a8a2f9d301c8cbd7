// Package processor invokes the external SAR processor and raster tools.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrExternalStageFailed is matched by every *StageError.
var ErrExternalStageFailed = errors.New("external stage failed")

// Runner executes external processing stages.
// The pipeline depends on this interface so tests can substitute a fake.
type Runner interface {
	// Run executes the stage and blocks until it exits.
	Run(ctx context.Context, stage Stage) error
}

// Stage is a single external program invocation. Dir must be absolute;
// the process working directory is never changed.
type Stage struct {
	// Name identifies the stage in logs and errors.
	Name    string
	Command string
	Args    []string
	Dir     string

	// Stdout, when set, receives the program's standard output instead of
	// Log. Relative paths are resolved against Dir.
	Stdout string

	// Log receives the command line and combined output. Nil discards.
	Log io.Writer
}

// CommandLine renders the stage for logs.
func (s Stage) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// StageError reports a failed external stage.
type StageError struct {
	Stage    string
	Command  string
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("external stage %q (%s) exited with status %d", e.Stage, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("external stage %q (%s) failed: %v", e.Stage, e.Command, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches ErrExternalStageFailed.
func (e *StageError) Is(target error) bool {
	return target == ErrExternalStageFailed
}

// waitDelay bounds how long output copying may continue after a stage is
// killed, in case a grandchild keeps the pipes open.
const waitDelay = 10 * time.Second

// ExecRunner runs stages as child processes.
type ExecRunner struct {
	binDir  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a runner. Bare command names are looked up in binDir
// when it is set, otherwise on PATH. A zero timeout waits indefinitely.
func NewExecRunner(binDir string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		binDir:  binDir,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the runner.
func (r *ExecRunner) WithLogger(logger *slog.Logger) *ExecRunner {
	r.logger = logger
	return r
}

// Run executes the stage and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, stage Stage) error {
	if !filepath.IsAbs(stage.Dir) {
		return &StageError{Stage: stage.Name, Command: stage.Command, ExitCode: -1,
			Err: fmt.Errorf("working directory %q is not absolute", stage.Dir)}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out := stage.Log
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "$ %s\n", stage.CommandLine())

	cmd := exec.CommandContext(ctx, r.resolve(stage.Command), stage.Args...)
	cmd.Dir = stage.Dir
	cmd.WaitDelay = waitDelay
	cmd.Stdout = out
	cmd.Stderr = out

	if stage.Stdout != "" {
		path := stage.Stdout
		if !filepath.IsAbs(path) {
			path = filepath.Join(stage.Dir, path)
		}
		f, err := os.Create(path)
		if err != nil {
			return &StageError{Stage: stage.Name, Command: stage.Command, ExitCode: -1, Err: err}
		}
		defer f.Close()
		cmd.Stdout = f
	}

	r.logger.InfoContext(ctx, "starting external stage",
		slog.String("stage", stage.Name),
		slog.String("command", stage.CommandLine()),
		slog.String("dir", stage.Dir),
	)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		r.logger.ErrorContext(ctx, "external stage failed",
			slog.String("stage", stage.Name),
			slog.Int("exit_code", exitCode),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return &StageError{Stage: stage.Name, Command: stage.Command, ExitCode: exitCode, Err: err}
	}

	r.logger.InfoContext(ctx, "external stage completed",
		slog.String("stage", stage.Name),
		slog.Duration("duration", duration),
	)
	return nil
}

func (r *ExecRunner) resolve(command string) string {
	if r.binDir == "" || strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	return filepath.Join(r.binDir, command)
}
