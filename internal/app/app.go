// Package app wires configuration into the components shared by the
// command-line tool and the job server.
package app

import (
	"io"
	"log/slog"

	"github.com/robert-malhotra/s1-insar/internal/config"
	"github.com/robert-malhotra/s1-insar/internal/dem"
	"github.com/robert-malhotra/s1-insar/internal/metrics"
	"github.com/robert-malhotra/s1-insar/internal/pipeline"
	"github.com/robert-malhotra/s1-insar/internal/processor"
)

// NewLogger builds the application logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewPipeline builds a pipeline that runs stages as child processes, with
// stage and transition metrics recorded.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	runner := metrics.InstrumentRunner(
		processor.NewExecRunner(cfg.Processor.BinDir, cfg.Processor.StageTimeout).WithLogger(logger),
	)

	client := dem.NewClient(cfg.DEM.BaseURL, cfg.DEM.Timeout).WithLogger(logger)
	preparer := dem.NewPreparer(client, runner, cfg.Commands.Warp, cfg.Commands.UTM2DEM).WithLogger(logger)

	p, err := pipeline.New(cfg, runner, preparer)
	if err != nil {
		return nil, err
	}
	return p.WithLogger(logger).WithObserver(metrics.ObserveTransition), nil
}
