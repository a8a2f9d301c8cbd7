// Command ifm produces a Sentinel-1 interferogram product from a pair of
// IW SLC acquisitions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robert-malhotra/s1-insar/internal/app"
	"github.com/robert-malhotra/s1-insar/internal/burst"
	"github.com/robert-malhotra/s1-insar/internal/config"
	"github.com/robert-malhotra/s1-insar/internal/pipeline"
	"github.com/robert-malhotra/s1-insar/internal/product"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	p, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting interferogram run",
		"reference", opts.Reference,
		"secondary", opts.Secondary,
		"output", opts.Output,
		"work_dir", opts.WorkDir,
		"looks", fmt.Sprintf("%dx%d", opts.RangeLooks, opts.AzimuthLooks),
	)

	result, err := p.Run(ctx, *opts)
	if err != nil {
		if state, ok := pipeline.FailedState(err); ok {
			logger.Error("run failed", "state", state.String(), "error", err.Error())
		}
		return err
	}

	logger.Info("run complete",
		"polarization", result.Polarization,
		"dem_source", result.DEMSource,
		"azimuth_offset", result.Offset.Offset,
		"product", result.Product.Dir,
		"files", len(result.Product.Files),
	)
	return nil
}

// parseArgs reads "ifm [flags] reference secondary output [flags]". Flags
// may appear before, between or after the positional arguments.
func parseArgs(args []string, stderr io.Writer) (*pipeline.Options, error) {
	fs := flag.NewFlagSet("ifm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: ifm [flags] <reference> <secondary> <output>")
		fs.PrintDefaults()
	}

	var (
		demName   string
		rlooks    int
		alooks    int
		bursts    string
		workDir   string
		incidence bool
		look      bool
		los       bool
		altDEM    bool
		crossPol  bool
	)
	fs.StringVar(&demName, "d", "", "pre-built DEM prefix (<dem>.dem and <dem>.par)")
	fs.StringVar(&demName, "dem", "", "alias for -d")
	fs.IntVar(&rlooks, "r", 20, "number of range looks")
	fs.IntVar(&rlooks, "rlooks", 20, "alias for -r")
	fs.IntVar(&alooks, "a", 4, "number of azimuth looks")
	fs.IntVar(&alooks, "alooks", 4, "alias for -a")
	fs.BoolVar(&incidence, "i", false, "create the incidence angle file")
	fs.BoolVar(&look, "l", false, "create the look vector theta and phi files")
	fs.BoolVar(&los, "s", false, "create the line-of-sight displacement file")
	fs.BoolVar(&altDEM, "o", false, "use the alternate DEM source")
	fs.BoolVar(&crossPol, "c", false, "process the cross-polarization channel")
	fs.StringVar(&bursts, "b", "", `directed burst selection "t1,t2,t3,length"`)
	fs.StringVar(&workDir, "w", ".", "working directory")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}

	if len(positional) != 3 {
		fs.Usage()
		return nil, errors.New("expected reference, secondary and output arguments")
	}

	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory: %w", err)
	}

	opts := &pipeline.Options{
		Reference:    positional[0],
		Secondary:    positional[1],
		Output:       positional[2],
		WorkDir:      absWork,
		DEM:          demName,
		RangeLooks:   rlooks,
		AzimuthLooks: alooks,
		Flags: product.Flags{
			Incidence:   incidence,
			LookVectors: look,
			LOS:         los,
		},
		AltDEMSource: altDEM,
		CrossPol:     crossPol,
	}

	if bursts != "" {
		sel, err := burst.ParseSelection(bursts)
		if err != nil {
			return nil, err
		}
		opts.Selection = sel
	}

	return opts, nil
}
