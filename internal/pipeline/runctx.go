package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ProcessingLogName is the per-run timestamped stage log.
const ProcessingLogName = "processing.log"

// RunContext owns the log files of one run. It is created after the entry
// guard passes and closed when the run ends.
type RunContext struct {
	WorkDir string
	OutDir  string
	Started time.Time

	mainLogPath string
	procLogPath string
	mainLog     *os.File
	procLog     *os.File
	proc        *slog.Logger
	logger      *slog.Logger
}

// OpenRunContext creates the output directory and opens <work>/<output>.log
// for external stage output and <work>/processing.log for stage progress.
func OpenRunContext(workDir, output string, logger *slog.Logger) (*RunContext, error) {
	rc := &RunContext{
		WorkDir:     workDir,
		OutDir:      filepath.Join(workDir, output),
		Started:     time.Now().UTC(),
		mainLogPath: filepath.Join(workDir, output+".log"),
		procLogPath: filepath.Join(workDir, ProcessingLogName),
		logger:      logger,
	}

	if err := os.MkdirAll(rc.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	rc.mainLog, err = os.Create(rc.mainLogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log: %w", err)
	}
	rc.procLog, err = os.Create(rc.procLogPath)
	if err != nil {
		rc.mainLog.Close()
		return nil, fmt.Errorf("failed to open processing log: %w", err)
	}

	rc.proc = slog.New(slog.NewTextHandler(rc.procLog, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return rc, nil
}

// Log is the writer external stages append their output to.
func (rc *RunContext) Log() io.Writer {
	return rc.mainLog
}

// MainLogPath returns the absolute path of the main log.
func (rc *RunContext) MainLogPath() string {
	return rc.mainLogPath
}

// ProcessingLogPath returns the absolute path of the processing log.
func (rc *RunContext) ProcessingLogPath() string {
	return rc.procLogPath
}

// Step records progress in the processing log and the application log.
func (rc *RunContext) Step(ctx context.Context, msg string, attrs ...slog.Attr) {
	rc.proc.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
	rc.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn records a warning in the processing log and the application log.
func (rc *RunContext) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	rc.proc.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
	rc.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Fail records a failure in the processing log and the application log.
func (rc *RunContext) Fail(ctx context.Context, state State, err error) {
	attrs := []slog.Attr{
		slog.String("state", state.String()),
		slog.String("error", err.Error()),
	}
	rc.proc.LogAttrs(ctx, slog.LevelError, "run failed", attrs...)
	rc.logger.LogAttrs(ctx, slog.LevelError, "run failed", attrs...)
}

// Close releases both log files.
func (rc *RunContext) Close() error {
	return errors.Join(rc.mainLog.Close(), rc.procLog.Close())
}
