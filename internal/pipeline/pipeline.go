package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robert-malhotra/s1-insar/internal/annotation"
	"github.com/robert-malhotra/s1-insar/internal/burst"
	"github.com/robert-malhotra/s1-insar/internal/config"
	"github.com/robert-malhotra/s1-insar/internal/coreg"
	"github.com/robert-malhotra/s1-insar/internal/dem"
	"github.com/robert-malhotra/s1-insar/internal/granule"
	"github.com/robert-malhotra/s1-insar/internal/processor"
	"github.com/robert-malhotra/s1-insar/internal/product"
)

const (
	// UserDEMSource labels a caller-supplied DEM in the manifest.
	UserDEMSource = "Unknown"
	// ProductDirName is the product directory inside the work directory.
	ProductDirName = "PRODUCT"
	// OffsetLogName is the coregistration log read by the offset gate.
	OffsetLogName = "offsetfit3.log"
	// BaselineLogName receives the base_init output.
	BaselineLogName = "baseline.log"

	refinementIterations = "3"
)

// DEMProvider prepares a processor-ready DEM.
type DEMProvider interface {
	Prepare(ctx context.Context, req dem.Request) (*dem.Result, error)
}

// Options describe one interferometric run.
type Options struct {
	// Reference and Secondary are acquisition (SAFE) paths. Relative paths
	// are resolved against WorkDir.
	Reference string
	Secondary string
	// Output names the interferogram directory inside WorkDir.
	Output  string
	WorkDir string
	// DEM is an optional pre-built DEM prefix (<DEM>.dem/<DEM>.par).
	DEM          string
	RangeLooks   int
	AzimuthLooks int
	Flags        product.Flags
	// AltDEMSource requests the alternate DEM source.
	AltDEMSource bool
	CrossPol     bool
	// Selection switches burst resolution to directed mode.
	Selection *burst.Selection
	// Observer receives this run's transitions after the pipeline observers.
	Observer Observer
}

func (o *Options) validate() error {
	if o.Output == "" {
		return fmt.Errorf("output name is required")
	}
	if filepath.Base(o.Output) != o.Output {
		return fmt.Errorf("output name %q must not contain a path separator", o.Output)
	}
	if o.WorkDir == "" {
		return fmt.Errorf("work directory is required")
	}
	if o.RangeLooks < 1 || o.AzimuthLooks < 1 {
		return fmt.Errorf("looks must be at least 1, got %dx%d", o.RangeLooks, o.AzimuthLooks)
	}
	if o.Selection != nil && o.Selection.Length < 1 {
		return fmt.Errorf("burst selection length must be at least 1, got %d", o.Selection.Length)
	}
	return nil
}

// Result summarizes a completed run.
type Result struct {
	State        State
	Polarization string
	DEMSource    string
	Tables       *burst.Tables
	Offset       coreg.Result
	Manifest     string
	Product      *product.Product
}

// Pipeline runs interferometric processing through the external processor.
type Pipeline struct {
	runner    processor.Runner
	dem       DEMProvider
	collector *product.Collector
	gate      *coreg.Gate
	cmds      config.CommandConfig
	tolerance float64
	margin    float64
	version   string
	xslPath   string
	server    string
	logger    *slog.Logger
	observers []Observer
}

// New creates a pipeline from configuration.
func New(cfg *config.Config, runner processor.Runner, demProvider DEMProvider) (*Pipeline, error) {
	policy, err := coreg.ParsePolicy(cfg.Coreg.OffsetPolicy)
	if err != nil {
		return nil, err
	}
	xslPath, err := filepath.Abs(cfg.Metadata.XSLPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve XSL path: %w", err)
	}

	return &Pipeline{
		runner:    runner,
		dem:       demProvider,
		collector: product.NewCollector(runner, cfg.Commands.Browse),
		gate:      coreg.NewGate(cfg.Coreg.OffsetThreshold, policy),
		cmds:      cfg.Commands,
		tolerance: cfg.Burst.Tolerance,
		margin:    cfg.DEM.MarginDegrees,
		version:   cfg.Processor.Version,
		xslPath:   xslPath,
		server:    cfg.Metadata.Server,
		logger:    slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the pipeline and its collaborators.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	p.logger = logger
	p.collector.WithLogger(logger)
	p.gate.WithLogger(logger)
	return p
}

// WithObserver registers fn to receive every state transition.
func (p *Pipeline) WithObserver(fn Observer) *Pipeline {
	p.observers = append(p.observers, fn)
	return p
}

// run carries the per-run state through the steps.
type run struct {
	opts    Options
	rc      *RunContext
	ref     *granule.Name
	sec     *granule.Name
	refPath string
	secPath string
	state   State
	res     *Result
	demPath string
	bbox    []float64
	layout  product.Layout
}

type step struct {
	to State
	fn func(context.Context, *run) error
}

// Run processes one pair. The entry guard runs before any file is touched;
// an invalid pair fails with granule.ErrInvalidInputProduct and no run
// directory contents are created. Every failure is a *RunError.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	r := &run{opts: opts, state: Init, res: &Result{State: Init}}

	ref, sec, err := granule.ParsePair(opts.Reference, opts.Secondary)
	if err == nil {
		err = opts.validate()
	}
	if err != nil {
		return r.res, p.fail(ctx, r, err)
	}
	r.ref, r.sec = ref, sec

	workDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return r.res, p.fail(ctx, r, fmt.Errorf("failed to resolve work directory: %w", err))
	}
	r.refPath = absIn(workDir, opts.Reference)
	r.secPath = absIn(workDir, opts.Secondary)

	rc, err := OpenRunContext(workDir, opts.Output, p.logger)
	if err != nil {
		return r.res, p.fail(ctx, r, err)
	}
	defer rc.Close()
	r.rc = rc

	r.layout = product.Layout{
		OutDir:    rc.OutDir,
		Reference: ref.Date(),
		Name:      ref.Date() + "_" + sec.Date(),
	}

	rc.Step(ctx, "starting processing",
		slog.String("reference", ref.Raw),
		slog.String("secondary", sec.Raw),
		slog.String("output", rc.OutDir),
	)

	steps := []step{
		{PolarizationSelected, p.selectPolarization},
		{DEMReady, p.prepareDEM},
		{BurstsResolved, p.resolveBursts},
		{Coregistered, p.coregister},
		{OffsetValidated, p.validateOffset},
		{Geocoded, p.geocode},
		{MetadataWritten, p.writeMetadata},
		{ProductsCollected, p.collect},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r.res, p.fail(ctx, r, err)
		}
		if err := s.fn(ctx, r); err != nil {
			return r.res, p.fail(ctx, r, err)
		}
		p.transition(r, s.to, nil)
	}

	p.transition(r, Done, nil)
	rc.Step(ctx, "done")
	return r.res, nil
}

func (p *Pipeline) transition(r *run, to State, err error) {
	ev := Event{From: r.state, To: to, At: time.Now().UTC(), Err: err}
	if to != Failed {
		r.state = to
	}
	r.res.State = to
	for _, fn := range p.observers {
		fn(ev)
	}
	if r.opts.Observer != nil {
		r.opts.Observer(ev)
	}
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) error {
	if r.rc != nil {
		r.rc.Fail(ctx, r.state, err)
	} else {
		p.logger.ErrorContext(ctx, "run rejected",
			slog.String("state", r.state.String()),
			slog.String("error", err.Error()),
		)
	}
	runErr := &RunError{State: r.state, Err: err}
	p.transition(r, Failed, runErr)
	return runErr
}

func (p *Pipeline) stage(r *run, name, command, dir string, args ...string) processor.Stage {
	return processor.Stage{
		Name:    name,
		Command: command,
		Args:    args,
		Dir:     dir,
		Log:     r.rc.Log(),
	}
}

func (p *Pipeline) selectPolarization(ctx context.Context, r *run) error {
	desc, err := r.ref.Describe()
	if err != nil {
		return err
	}
	if r.opts.CrossPol {
		cross, ok := desc.WithCrossPol()
		if !ok {
			r.rc.Warn(ctx, "cross-pol requested for a single-pol product, keeping co-pol",
				slog.String("class", string(desc.Class)),
			)
		}
		desc = cross
	}
	r.res.Polarization = desc.Pol
	r.rc.Step(ctx, "processing polarization", slog.String("pol", desc.Pol))

	return p.runner.Run(ctx, p.stage(r, "ingest", p.cmds.Ingest, r.rc.WorkDir, desc.Pol))
}

func (p *Pipeline) prepareDEM(ctx context.Context, r *run) error {
	r.rc.Step(ctx, "getting a DEM file")

	footprint, fpErr := annotation.ReadFootprint(annotation.Dir(r.refPath))
	var bounds dem.Bounds
	if fpErr == nil {
		bounds, fpErr = dem.BoundsFromPoints(footprint, p.margin)
	}
	if fpErr == nil {
		r.bbox = bounds.BBox()
	}

	if r.opts.DEM != "" {
		r.demPath = absIn(r.rc.WorkDir, r.opts.DEM)
		r.res.DEMSource = UserDEMSource
		if fpErr != nil {
			r.rc.Warn(ctx, "footprint unavailable, product item will have no geometry",
				slog.String("error", fpErr.Error()),
			)
		}
		return nil
	}

	if fpErr != nil {
		return fmt.Errorf("failed to compute DEM bounds: %w", fpErr)
	}
	res, err := p.dem.Prepare(ctx, dem.Request{
		Bounds:       bounds,
		WorkDir:      r.rc.WorkDir,
		AzimuthLooks: r.opts.AzimuthLooks,
		AltSource:    r.opts.AltDEMSource,
		Log:          r.rc.Log(),
	})
	if err != nil {
		return err
	}
	r.demPath = res.Path
	r.res.DEMSource = res.Source
	r.rc.Step(ctx, "DEM ready", slog.String("dem", res.Path), slog.String("source", res.Source))
	return nil
}

func (p *Pipeline) resolveBursts(ctx context.Context, r *run) error {
	refDir := annotation.Dir(r.refPath)
	secDir := annotation.Dir(r.secPath)

	pairs := make([]burst.SwathPair, 0, len(annotation.Swaths))
	for _, swath := range annotation.Swaths {
		refTimes, refTotal, err := annotation.ExtractBurstTimes(refDir, swath)
		if err != nil {
			return fmt.Errorf("reference: %w", err)
		}
		secTimes, secTotal, err := annotation.ExtractBurstTimes(secDir, swath)
		if err != nil {
			return fmt.Errorf("secondary: %w", err)
		}
		pairs = append(pairs, burst.SwathPair{
			Reference: burst.Sequence{Times: refTimes, Total: refTotal},
			Secondary: burst.Sequence{Times: secTimes, Total: secTotal},
		})
	}

	tables, err := burst.ResolveSwaths(pairs, r.opts.Selection, p.tolerance)
	if err != nil {
		return err
	}

	for _, t := range []struct {
		date  string
		table burst.Table
	}{
		{r.ref.Date(), tables.Reference},
		{r.sec.Date(), tables.Secondary},
	} {
		if err := os.MkdirAll(filepath.Join(r.rc.WorkDir, t.date), 0o755); err != nil {
			return fmt.Errorf("failed to create acquisition directory: %w", err)
		}
		if err := t.table.WriteFile(p.burstTab(r, t.date)); err != nil {
			return err
		}
	}

	r.res.Tables = tables
	r.rc.Step(ctx, "burst overlap resolved",
		slog.Any("reference", tables.Reference),
		slog.Any("secondary", tables.Secondary),
	)
	return nil
}

func (p *Pipeline) burstTab(r *run, date string) string {
	return filepath.Join(r.rc.WorkDir, date, date+"_burst_tab")
}

func (p *Pipeline) looks(r *run) []string {
	return []string{
		"--rlooks", strconv.Itoa(r.opts.RangeLooks),
		"--alooks", strconv.Itoa(r.opts.AzimuthLooks),
	}
}

func (p *Pipeline) hgt(r *run) string {
	return filepath.Join(r.rc.OutDir, "DEM", fmt.Sprintf("HGT_SAR_%d_%d", r.opts.RangeLooks, r.opts.AzimuthLooks))
}

func (p *Pipeline) interferogram(ctx context.Context, r *run, step int, iterate bool) error {
	args := []string{r.layout.Reference, r.sec.Date(), p.hgt(r)}
	args = append(args, p.looks(r)...)
	if iterate {
		args = append(args, "--iter", refinementIterations)
	}
	args = append(args, "--step", strconv.Itoa(step))

	r.rc.Step(ctx, "starting interferogram step", slog.Int("step", step))
	return p.runner.Run(ctx, p.stage(r, fmt.Sprintf("interferogram_%d", step), p.cmds.Interferogram, r.rc.OutDir, args...))
}

func (p *Pipeline) coregister(ctx context.Context, r *run) error {
	r.rc.Step(ctx, "starting SLC copy")

	refDate, secDate := r.ref.Date(), r.sec.Date()
	demName, demDir := filepath.Base(r.demPath), filepath.Dir(r.demPath)

	refArgs := append([]string{r.rc.OutDir, refDate, "SLC_TAB", p.burstTab(r, refDate), "--mode", "1",
		"--dem", demName, "--dem-path", demDir}, p.looks(r)...)
	if err := p.runner.Run(ctx, p.stage(r, "slc_copy_reference", p.cmds.SLCCopy,
		filepath.Join(r.rc.WorkDir, refDate), refArgs...)); err != nil {
		return err
	}

	secArgs := append([]string{r.rc.OutDir, secDate, "SLC_TAB", p.burstTab(r, secDate), "--mode", "2"}, p.looks(r)...)
	if err := p.runner.Run(ctx, p.stage(r, "slc_copy_secondary", p.cmds.SLCCopy,
		filepath.Join(r.rc.WorkDir, secDate), secArgs...)); err != nil {
		return err
	}

	if err := p.interferogram(ctx, r, 0, true); err != nil {
		return err
	}
	if err := p.interferogram(ctx, r, 1, false); err != nil {
		return err
	}
	return p.interferogram(ctx, r, 2, true)
}

func (p *Pipeline) validateOffset(ctx context.Context, r *run) error {
	offset, err := coreg.ReadOffsetFile(filepath.Join(r.rc.OutDir, OffsetLogName))
	if err != nil {
		return err
	}
	res, err := p.gate.Check(offset)
	r.res.Offset = res
	r.rc.Step(ctx, "azimuth offset checked",
		slog.Float64("offset", res.Offset),
		slog.Bool("exceeded", res.Exceeded),
	)
	return err
}

func (p *Pipeline) geocode(ctx context.Context, r *run) error {
	name := r.layout.Name

	r.rc.Step(ctx, "starting S1_coreg_overlap")
	err := p.runner.Run(ctx, p.stage(r, "coreg_overlap", p.cmds.CoregOverlap, r.rc.OutDir,
		"SLC1_tab", "SLC2R_tab", name, name+".off.it", name+".off.it.corrected"))
	if err != nil {
		return err
	}

	if err := p.interferogram(ctx, r, 3, false); err != nil {
		return err
	}

	r.rc.Step(ctx, "starting phase unwrapping and geocoding")
	args := append([]string{r.layout.Reference, r.sec.Date(), "--step", "man"}, p.looks(r)...)
	return p.runner.Run(ctx, p.stage(r, "unwrap_geocode", p.cmds.Unwrap, r.rc.OutDir, args...))
}

func (p *Pipeline) writeMetadata(ctx context.Context, r *run) error {
	r.rc.Step(ctx, "collecting metadata")

	refDate, secDate := r.ref.Date(), r.sec.Date()
	baseline := p.stage(r, "base_init", p.cmds.BaseInit, r.rc.OutDir,
		refDate+".slc.par", secDate+".slc.par", "-", "-", "base")
	baseline.Stdout = filepath.Join(r.rc.OutDir, BaselineLogName)
	if err := p.runner.Run(ctx, baseline); err != nil {
		return err
	}

	for _, acq := range []struct {
		role, date, path string
	}{
		{"reference", refDate, r.refPath},
		{"secondary", secDate, r.secPath},
	} {
		manifest := filepath.Join(acq.path, "manifest.safe")
		var size int64
		if fi, err := os.Stat(manifest); err == nil {
			size = fi.Size()
		}
		err := p.runner.Run(ctx, p.stage(r, "metadata_"+acq.role, p.cmds.XSLT, r.rc.WorkDir,
			"--stringparam", "path", acq.path,
			"--stringparam", "timestamp", r.rc.Started.Format(time.RFC3339),
			"--stringparam", "file_size", strconv.FormatInt(size, 10),
			"--stringparam", "server", p.server,
			"--output", filepath.Join(r.rc.WorkDir, acq.date+".xml"),
			p.xslPath, manifest,
		))
		if err != nil {
			return err
		}
	}

	path, err := product.Manifest{
		Layout:           r.layout,
		WorkDir:          r.rc.WorkDir,
		Secondary:        secDate,
		DEMSource:        r.res.DEMSource,
		ProcessorVersion: p.version,
		MainLog:          r.rc.MainLogPath(),
		ProcessingLog:    r.rc.ProcessingLogPath(),
	}.WriteFile()
	if err != nil {
		return err
	}
	r.res.Manifest = path
	return nil
}

func (p *Pipeline) collect(ctx context.Context, r *run) error {
	r.rc.Step(ctx, "moving outputs to the product directory")

	prod, err := p.collector.Collect(ctx, product.Request{
		Layout:   r.layout,
		LongName: r.ref.DateTime() + "_" + r.sec.DateTime(),
		Dir:      filepath.Join(r.rc.WorkDir, ProductDirName),
		Flags:    r.opts.Flags,
		Item: &product.ItemInfo{
			Reference:        r.ref,
			Secondary:        r.sec,
			Polarization:     r.res.Polarization,
			BBox:             r.bbox,
			DEMSource:        r.res.DEMSource,
			ProcessorVersion: p.version,
			Looks:            [2]int{r.opts.RangeLooks, r.opts.AzimuthLooks},
		},
		Log: r.rc.Log(),
	})
	if err != nil {
		return err
	}
	r.res.Product = prod
	return nil
}

func absIn(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
