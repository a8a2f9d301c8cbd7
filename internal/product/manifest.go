package product

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ManifestName is the product manifest file written into the work directory.
const ManifestName = "hdf5.txt"

// Manifest lists the paths of every generated artifact for downstream
// metadata generation.
type Manifest struct {
	Layout Layout
	// WorkDir holds the acquisition metadata XML files.
	WorkDir          string
	Secondary        string
	DEMSource        string
	ProcessorVersion string
	MainLog          string
	ProcessingLog    string
}

type manifestEntry struct {
	key, value string
}

func (m Manifest) entries() []manifestEntry {
	l := m.Layout
	ref := filepath.Join(l.OutDir, l.Reference)
	sec := filepath.Join(l.OutDir, m.Secondary)
	return []manifestEntry{
		{"granule", "s1_vertical_displacement"},
		{"data", "Sentinel-1"},
		{"master metadata", filepath.Join(m.WorkDir, l.Reference+".xml")},
		{"slave metadata", filepath.Join(m.WorkDir, m.Secondary+".xml")},
		{"amplitude master", ref + ".mli.geo.tif"},
		{"amplitude slave", sec + ".mli.geo.tif"},
		{"digital elevation model", l.path(".dem.tif")},
		{"simulated phase", l.path(".sim_unw.geo.tif")},
		{"filtered interferogram", l.path(".diff0.man.adf.bmp.geo.tif")},
		{"filtered coherence", l.path(".adf.cc.geo.tif")},
		{"unwrapped phase", l.path(".adf.unw.geo.tif")},
		{"vertical displacement", l.path(".vert.disp.geo.tif")},
		{"mli.par file", ref + ".mli.par"},
		{"gamma version", m.ProcessorVersion},
		{"dem source", m.DEMSource},
		{"main log", m.MainLog},
		{"processing log", m.ProcessingLog},
	}
}

// WriteTo writes the manifest as a [Gamma DInSar] section of key = value lines.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString("[Gamma DInSar]\n")
	for _, e := range m.entries() {
		fmt.Fprintf(&buf, "%s = %s\n", e.key, e.value)
	}
	return buf.WriteTo(w)
}

// WriteFile writes the manifest to <WorkDir>/hdf5.txt and returns its path.
func (m Manifest) WriteFile() (string, error) {
	path := filepath.Join(m.WorkDir, ManifestName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create manifest: %w", err)
	}
	if _, err := m.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}
