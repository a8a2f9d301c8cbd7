package dem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/robert-malhotra/s1-insar/internal/processor"
)

// Name is the base name of the prepared DEM (<name>.dem and <name>.par).
const Name = "big"

// basePixelSize is the approximate single-look ground pixel size in meters.
const basePixelSize = 20

// Request asks for a processor-ready DEM covering Bounds.
type Request struct {
	Bounds Bounds
	// WorkDir receives the intermediate and final DEM files. Must be absolute.
	WorkDir      string
	AzimuthLooks int
	// AltSource selects the alternate (OpenTopography) source and a 16-bit DEM.
	AltSource bool
	Log       io.Writer
}

// Result describes a prepared DEM.
type Result struct {
	// Path is the absolute DEM prefix; the processor appends .dem/.par.
	Path   string
	Source string
}

// PixelSize returns the DEM posting for the given azimuth looks. The DEM is
// posted at twice the multi-looked SAR pixel because the processor halves it.
func PixelSize(azimuthLooks int) int {
	return basePixelSize * azimuthLooks * 2
}

// Preparer fetches a DEM, resamples it to the interferogram posting and
// converts it to the processor format.
type Preparer struct {
	client     *Client
	runner     processor.Runner
	warpCmd    string
	convertCmd string
	logger     *slog.Logger
}

// NewPreparer creates a DEM preparer.
func NewPreparer(client *Client, runner processor.Runner, warpCmd, convertCmd string) *Preparer {
	return &Preparer{
		client:     client,
		runner:     runner,
		warpCmd:    warpCmd,
		convertCmd: convertCmd,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the preparer.
func (p *Preparer) WithLogger(logger *slog.Logger) *Preparer {
	p.logger = logger
	return p
}

// Prepare produces <WorkDir>/big.dem and big.par.
func (p *Preparer) Prepare(ctx context.Context, req Request) (*Result, error) {
	if req.AzimuthLooks < 1 {
		return nil, fmt.Errorf("azimuth looks must be at least 1, got %d", req.AzimuthLooks)
	}
	if !filepath.IsAbs(req.WorkDir) {
		return nil, fmt.Errorf("DEM work directory %q is not absolute", req.WorkDir)
	}

	source := SourceDefault
	if req.AltSource {
		source = SourceOpenTopo
	}

	rawPath := filepath.Join(req.WorkDir, "tmpdem.tif")
	warpedPath := filepath.Join(req.WorkDir, "tmpdem2.tif")

	p.logger.InfoContext(ctx, "fetching DEM",
		slog.String("bbox", req.Bounds.String()),
		slog.Bool("antimeridian", req.Bounds.CrossesAntimeridian()),
		slog.String("source", string(source)),
	)

	demType, err := p.client.Fetch(ctx, FetchRequest{Bounds: req.Bounds, Source: source, UTM: true}, rawPath)
	if err != nil {
		return nil, err
	}

	pix := strconv.Itoa(PixelSize(req.AzimuthLooks))
	err = p.runner.Run(ctx, processor.Stage{
		Name:    "dem_warp",
		Command: p.warpCmd,
		Args:    []string{"-overwrite", "-tr", pix, pix, "-r", "average", rawPath, warpedPath},
		Dir:     req.WorkDir,
		Log:     req.Log,
	})
	if err != nil {
		return nil, err
	}
	if err := os.Remove(rawPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove %s: %w", rawPath, err)
	}

	prefix := filepath.Join(req.WorkDir, Name)
	args := []string{warpedPath, prefix + ".dem", prefix + ".par"}
	if req.AltSource {
		args = append(args, "--data-type", "int16")
	}
	err = p.runner.Run(ctx, processor.Stage{
		Name:    "dem_convert",
		Command: p.convertCmd,
		Args:    args,
		Dir:     req.WorkDir,
		Log:     req.Log,
	})
	if err != nil {
		return nil, err
	}

	return &Result{Path: prefix, Source: demType}, nil
}
