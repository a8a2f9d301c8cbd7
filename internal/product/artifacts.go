// Package product collects processor outputs into the final product
// directory and writes the product manifest and STAC item.
package product

import (
	"path/filepath"
)

// Kind identifies a product artifact. Raster kinds double as the file name
// suffix.
type Kind string

const (
	KindAmplitude    Kind = "amp"
	KindCoherence    Kind = "corr"
	KindVertDisp     Kind = "vert_disp"
	KindUnwPhase     Kind = "unw_phase"
	KindLOSDisp      Kind = "los_disp"
	KindIncidence    Kind = "inc"
	KindLookTheta    Kind = "lv_theta"
	KindLookPhi      Kind = "lv_phi"
	KindColorBrowse  Kind = "color_phase"
	KindUnwrapBrowse Kind = "unw_phase_browse"
	KindItem         Kind = "item"
)

// Flags select the optional derived layers.
type Flags struct {
	Incidence   bool
	LookVectors bool
	LOS         bool
}

// Artifact maps one processor output onto its product file.
type Artifact struct {
	Kind     Kind
	Source   string
	Required bool
}

// Target returns the product file name for the artifact.
func (a Artifact) Target(longName string) string {
	return longName + "_" + string(a.Kind) + ".tif"
}

// Layout names the processor outputs of one interferogram.
type Layout struct {
	// OutDir is the absolute interferogram directory.
	OutDir string
	// Reference is the reference acquisition date (YYYYMMDD).
	Reference string
	// Name is the short interferogram name (<refdate>_<secdate>).
	Name string
}

func (l Layout) path(suffix string) string {
	return filepath.Join(l.OutDir, l.Name+suffix)
}

// Artifacts lists the raster artifacts for the active flags in product order.
// The coherence layer depends on whether filtering ran, so it is optional.
func (l Layout) Artifacts(flags Flags) []Artifact {
	artifacts := []Artifact{
		{Kind: KindAmplitude, Source: filepath.Join(l.OutDir, l.Reference+".mli.geo.tif"), Required: true},
		{Kind: KindCoherence, Source: l.path(".adf.cc.geo.tif")},
		{Kind: KindVertDisp, Source: l.path(".vert.disp.geo.org.tif"), Required: true},
		{Kind: KindUnwPhase, Source: l.path(".adf.unw.geo.tif"), Required: true},
	}
	if flags.LOS {
		artifacts = append(artifacts, Artifact{Kind: KindLOSDisp, Source: l.path(".los.disp.geo.org.tif"), Required: true})
	}
	if flags.Incidence {
		artifacts = append(artifacts, Artifact{Kind: KindIncidence, Source: l.path(".inc.tif"), Required: true})
	}
	if flags.LookVectors {
		artifacts = append(artifacts,
			Artifact{Kind: KindLookTheta, Source: l.path(".lv_theta.tif"), Required: true},
			Artifact{Kind: KindLookPhi, Source: l.path(".lv_phi.tif"), Required: true},
		)
	}
	return artifacts
}

// Browse pairs a browse source raster with the product prefix it renders to.
type Browse struct {
	Kind   Kind
	Source string
	Prefix string
}

// Browses lists the browse images of the product.
func (l Layout) Browses(longName string) []Browse {
	return []Browse{
		{Kind: KindColorBrowse, Source: l.path(".diff0.man.adf.bmp.geo.tif"), Prefix: longName + "_color_phase"},
		{Kind: KindUnwrapBrowse, Source: l.path(".adf.unw.geo.bmp.tif"), Prefix: longName + "_unw_phase"},
	}
}
