package product

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/robert-malhotra/s1-insar/internal/processor"
)

// Request describes one product collection.
type Request struct {
	Layout Layout
	// LongName prefixes every product file (<refdatetime>_<secdatetime>).
	LongName string
	// Dir is the absolute product directory.
	Dir   string
	Flags Flags
	// Item, when set, writes <LongName>.json alongside the rasters.
	Item *ItemInfo
	Log  io.Writer
}

// File is one promoted product file.
type File struct {
	Kind Kind
	Name string
}

// Product is a promoted product directory.
type Product struct {
	Dir   string
	Files []File
}

// Paths returns the absolute paths of every product file.
func (p *Product) Paths() []string {
	paths := make([]string, len(p.Files))
	for i, f := range p.Files {
		paths[i] = filepath.Join(p.Dir, f.Name)
	}
	return paths
}

// Collector copies processor outputs into a product directory. Files are
// staged in a hidden sibling directory and promoted only when the whole set
// succeeded.
type Collector struct {
	runner    processor.Runner
	browseCmd string
	logger    *slog.Logger
}

// NewCollector creates a collector that renders browse images with browseCmd.
func NewCollector(runner processor.Runner, browseCmd string) *Collector {
	return &Collector{
		runner:    runner,
		browseCmd: browseCmd,
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger for the collector.
func (c *Collector) WithLogger(logger *slog.Logger) *Collector {
	c.logger = logger
	return c
}

// Collect stages every artifact, renders the browse images, writes the STAC
// item and promotes the result into req.Dir.
func (c *Collector) Collect(ctx context.Context, req Request) (*Product, error) {
	if !filepath.IsAbs(req.Dir) {
		return nil, fmt.Errorf("product directory %q is not absolute", req.Dir)
	}
	if req.LongName == "" {
		return nil, fmt.Errorf("product name is required")
	}

	parent := filepath.Dir(req.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", parent, err)
	}
	stage, err := os.MkdirTemp(parent, "."+filepath.Base(req.Dir)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	files, err := c.stage(ctx, stage, req)
	if err != nil {
		return nil, err
	}

	if err := promote(stage, req.Dir, files); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "product collected",
		slog.String("dir", req.Dir),
		slog.Int("files", len(files)),
	)

	return &Product{Dir: req.Dir, Files: files}, nil
}

func (c *Collector) stage(ctx context.Context, stage string, req Request) ([]File, error) {
	var files []File

	for _, a := range req.Layout.Artifacts(req.Flags) {
		target := a.Target(req.LongName)
		err := copyFile(a.Source, filepath.Join(stage, target))
		if errors.Is(err, fs.ErrNotExist) {
			if a.Required {
				return nil, &MissingError{Kind: a.Kind, Path: a.Source}
			}
			c.logger.WarnContext(ctx, "optional artifact not produced, skipping",
				slog.String("kind", string(a.Kind)),
				slog.String("path", a.Source),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, File{Kind: a.Kind, Name: target})
	}

	for _, b := range req.Layout.Browses(req.LongName) {
		rendered, err := c.browse(ctx, stage, b, req.Log)
		if err != nil {
			return nil, err
		}
		for _, name := range rendered {
			files = append(files, File{Kind: b.Kind, Name: name})
		}
	}

	if req.Item != nil {
		name := req.LongName + ".json"
		item, err := BuildItem(req.LongName, *req.Item, files)
		if err != nil {
			return nil, err
		}
		if err := WriteItem(item, filepath.Join(stage, name)); err != nil {
			return nil, err
		}
		files = append(files, File{Kind: KindItem, Name: name})
	}

	return files, nil
}

// browse renders one browse image set into the staging directory and
// returns the names of the files it produced.
func (c *Collector) browse(ctx context.Context, stage string, b Browse, log io.Writer) ([]string, error) {
	if _, err := os.Stat(b.Source); err != nil {
		return nil, &MissingError{Kind: b.Kind, Path: b.Source}
	}

	before, err := listDir(stage)
	if err != nil {
		return nil, err
	}

	err = c.runner.Run(ctx, processor.Stage{
		Name:    "browse_" + string(b.Kind),
		Command: c.browseCmd,
		Args:    []string{b.Source, filepath.Join(stage, b.Prefix)},
		Dir:     stage,
		Log:     log,
	})
	if err != nil {
		return nil, err
	}

	after, err := listDir(stage)
	if err != nil {
		return nil, err
	}

	var produced []string
	for name := range after {
		if !before[name] {
			produced = append(produced, name)
		}
	}
	if len(produced) == 0 {
		return nil, &MissingError{Kind: b.Kind, Path: filepath.Join(stage, b.Prefix)}
	}
	sort.Strings(produced)
	return produced, nil
}

func listDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

func promote(stage, dir string, files []File) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create product directory: %w", err)
	}
	for _, f := range files {
		if err := os.Rename(filepath.Join(stage, f.Name), filepath.Join(dir, f.Name)); err != nil {
			return fmt.Errorf("failed to promote %s: %w", f.Name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
