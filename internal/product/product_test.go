package product

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robert-malhotra/s1-insar/internal/granule"
	"github.com/robert-malhotra/s1-insar/internal/processor"
)

const (
	refScene = "S1A_IW_SLC__1SDV_20180101T120000_20180101T120027_019951_021F9E_7A3C"
	secScene = "S1B_IW_SLC__1SDV_20180113T120001_20180113T120028_009072_0103A1_A8E2"
	longName = "20180101T120000_20180113T120001"
)

// browseRunner mimics the browse renderer by writing <prefix>.png and
// <prefix>.kmz next to the requested prefix.
type browseRunner struct {
	stages []processor.Stage
	fail   bool
}

func (r *browseRunner) Run(ctx context.Context, stage processor.Stage) error {
	r.stages = append(r.stages, stage)
	if r.fail {
		return &processor.StageError{Stage: stage.Name, Command: stage.Command, ExitCode: 2}
	}
	prefix := stage.Args[1]
	for _, ext := range []string{".png", ".kmz"} {
		if err := os.WriteFile(prefix+ext, []byte("img"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLayout(t *testing.T) Layout {
	t.Helper()
	return Layout{
		OutDir:    filepath.Join(t.TempDir(), "ifm"),
		Reference: "20180101",
		Name:      "20180101_20180113",
	}
}

// writeOutputs creates the processor outputs for the given artifacts plus
// both browse sources.
func writeOutputs(t *testing.T, l Layout, artifacts []Artifact) {
	t.Helper()
	if err := os.MkdirAll(l.OutDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, a := range artifacts {
		if err := os.WriteFile(a.Source, []byte(string(a.Kind)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for _, b := range l.Browses(longName) {
		if err := os.WriteFile(b.Source, []byte("browse"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLayout_Artifacts(t *testing.T) {
	l := Layout{OutDir: "/w/ifm", Reference: "20180101", Name: "20180101_20180113"}

	tests := []struct {
		name  string
		flags Flags
		want  []Kind
	}{
		{"core", Flags{}, []Kind{KindAmplitude, KindCoherence, KindVertDisp, KindUnwPhase}},
		{"los", Flags{LOS: true}, []Kind{KindAmplitude, KindCoherence, KindVertDisp, KindUnwPhase, KindLOSDisp}},
		{"all", Flags{LOS: true, Incidence: true, LookVectors: true},
			[]Kind{KindAmplitude, KindCoherence, KindVertDisp, KindUnwPhase, KindLOSDisp, KindIncidence, KindLookTheta, KindLookPhi}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Artifacts(tt.flags)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d artifacts, got %d", len(tt.want), len(got))
			}
			for i, a := range got {
				if a.Kind != tt.want[i] {
					t.Errorf("artifact %d: expected %s, got %s", i, tt.want[i], a.Kind)
				}
				if a.Kind == KindCoherence && a.Required {
					t.Error("coherence must be optional")
				}
			}
		})
	}

	amp := l.Artifacts(Flags{})[0]
	if amp.Source != "/w/ifm/20180101.mli.geo.tif" {
		t.Errorf("unexpected amplitude source %s", amp.Source)
	}
	if amp.Target(longName) != longName+"_amp.tif" {
		t.Errorf("unexpected amplitude target %s", amp.Target(longName))
	}
}

func TestCollector_Collect(t *testing.T) {
	l := testLayout(t)
	flags := Flags{Incidence: true, LookVectors: true, LOS: true}
	writeOutputs(t, l, l.Artifacts(flags))

	ref, _ := granule.Parse(refScene)
	sec, _ := granule.Parse(secScene)

	prodDir := filepath.Join(filepath.Dir(l.OutDir), "PRODUCT")
	runner := &browseRunner{}
	c := NewCollector(runner, "makeAsfBrowse.py").WithLogger(quietLogger())

	prod, err := c.Collect(context.Background(), Request{
		Layout:   l,
		LongName: longName,
		Dir:      prodDir,
		Flags:    flags,
		Item: &ItemInfo{
			Reference:    ref,
			Secondary:    sec,
			Polarization: "vv",
			BBox:         []float64{-122, 37, -121, 38},
			DEMSource:    "GLO30",
		},
	})
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}

	for _, suffix := range []string{"amp", "corr", "vert_disp", "unw_phase", "los_disp", "inc", "lv_theta", "lv_phi"} {
		path := filepath.Join(prodDir, longName+"_"+suffix+".tif")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s in product: %v", filepath.Base(path), err)
		}
	}
	for _, name := range []string{"_color_phase.png", "_color_phase.kmz", "_unw_phase.png", "_unw_phase.kmz", ".json"} {
		if _, err := os.Stat(filepath.Join(prodDir, longName+name)); err != nil {
			t.Errorf("expected %s in product: %v", longName+name, err)
		}
	}

	if len(prod.Paths()) != len(prod.Files) {
		t.Errorf("Paths() and Files disagree")
	}
	if len(runner.stages) != 2 {
		t.Errorf("expected 2 browse stages, got %d", len(runner.stages))
	}

	browses := map[Kind][]string{}
	for _, f := range prod.Files {
		if f.Kind == KindColorBrowse || f.Kind == KindUnwrapBrowse {
			browses[f.Kind] = append(browses[f.Kind], f.Name)
		}
	}
	for kind, want := range map[Kind][]string{
		KindColorBrowse:  {longName + "_color_phase.kmz", longName + "_color_phase.png"},
		KindUnwrapBrowse: {longName + "_unw_phase.kmz", longName + "_unw_phase.png"},
	} {
		if strings.Join(browses[kind], ",") != strings.Join(want, ",") {
			t.Errorf("%s browse files = %v, want %v", kind, browses[kind], want)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(prodDir))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".PRODUCT") {
			t.Errorf("staging directory %s left behind", e.Name())
		}
	}
}

func TestCollector_OptionalCoherenceSkipped(t *testing.T) {
	l := testLayout(t)
	var present []Artifact
	for _, a := range l.Artifacts(Flags{}) {
		if a.Kind != KindCoherence {
			present = append(present, a)
		}
	}
	writeOutputs(t, l, present)

	prodDir := filepath.Join(filepath.Dir(l.OutDir), "PRODUCT")
	c := NewCollector(&browseRunner{}, "makeAsfBrowse.py").WithLogger(quietLogger())

	prod, err := c.Collect(context.Background(), Request{Layout: l, LongName: longName, Dir: prodDir})
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	for _, f := range prod.Files {
		if f.Kind == KindCoherence {
			t.Error("coherence must be skipped when not produced")
		}
	}
}

func TestCollector_MissingRequired(t *testing.T) {
	l := testLayout(t)
	// Incidence is requested but never produced.
	writeOutputs(t, l, l.Artifacts(Flags{}))

	prodDir := filepath.Join(filepath.Dir(l.OutDir), "PRODUCT")
	c := NewCollector(&browseRunner{}, "makeAsfBrowse.py").WithLogger(quietLogger())

	_, err := c.Collect(context.Background(), Request{
		Layout:   l,
		LongName: longName,
		Dir:      prodDir,
		Flags:    Flags{Incidence: true},
	})
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrArtifactMissing, got %v", err)
	}
	var missing *MissingError
	if !errors.As(err, &missing) || missing.Kind != KindIncidence {
		t.Errorf("expected missing incidence artifact, got %v", err)
	}
	if _, err := os.Stat(prodDir); !os.IsNotExist(err) {
		t.Error("no product directory may be created on failure")
	}
}

func TestCollector_BrowseFailure(t *testing.T) {
	l := testLayout(t)
	writeOutputs(t, l, l.Artifacts(Flags{}))

	prodDir := filepath.Join(filepath.Dir(l.OutDir), "PRODUCT")
	c := NewCollector(&browseRunner{fail: true}, "makeAsfBrowse.py").WithLogger(quietLogger())

	_, err := c.Collect(context.Background(), Request{Layout: l, LongName: longName, Dir: prodDir})
	if !errors.Is(err, processor.ErrExternalStageFailed) {
		t.Fatalf("expected ErrExternalStageFailed, got %v", err)
	}
	if _, err := os.Stat(prodDir); !os.IsNotExist(err) {
		t.Error("no product directory may be created on failure")
	}
}

func TestBuildItem(t *testing.T) {
	ref, _ := granule.Parse(refScene)
	sec, _ := granule.Parse(secScene)

	files := []File{
		{Kind: KindAmplitude, Name: longName + "_amp.tif"},
		{Kind: KindColorBrowse, Name: longName + "_color_phase.png"},
	}
	item, err := BuildItem(longName, ItemInfo{
		Reference:        ref,
		Secondary:        sec,
		Polarization:     "vv",
		BBox:             []float64{-122, 37, -121, 38},
		ProcessorVersion: "20191203",
		Looks:            [2]int{20, 4},
	}, files)
	if err != nil {
		t.Fatalf("BuildItem() failed: %v", err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("failed to marshal item: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode item: %v", err)
	}

	if decoded["id"] != longName {
		t.Errorf("expected id %s, got %v", longName, decoded["id"])
	}
	props := decoded["properties"].(map[string]any)
	if props["platform"] != "sentinel-1a" {
		t.Errorf("expected platform sentinel-1a, got %v", props["platform"])
	}
	if props["insar:temporal_baseline"] != float64(12) {
		t.Errorf("expected 12 day baseline, got %v", props["insar:temporal_baseline"])
	}
	assets := decoded["assets"].(map[string]any)
	if _, ok := assets["amp"]; !ok {
		t.Error("expected amp asset")
	}
	if _, ok := assets["color_phase.png"]; !ok {
		t.Errorf("expected browse asset keyed by suffix, got %v", assets)
	}
}

func TestBuildItem_RequiresAcquisitions(t *testing.T) {
	if _, err := BuildItem("x", ItemInfo{}, nil); err == nil {
		t.Error("expected error without acquisitions")
	}
}

func TestManifest_WriteTo(t *testing.T) {
	m := Manifest{
		Layout:           Layout{OutDir: "/w/ifm", Reference: "20180101", Name: "20180101_20180113"},
		WorkDir:          "/w",
		Secondary:        "20180113",
		DEMSource:        "Unknown",
		ProcessorVersion: "99.99.99",
		MainLog:          "/w/ifm.log",
		ProcessingLog:    "/w/processing.log",
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo() failed: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "[Gamma DInSar]\n") {
		t.Errorf("manifest must start with the section header, got %q", out)
	}
	for _, line := range []string{
		"master metadata = /w/20180101.xml",
		"amplitude slave = /w/ifm/20180113.mli.geo.tif",
		"vertical displacement = /w/ifm/20180101_20180113.vert.disp.geo.tif",
		"mli.par file = /w/ifm/20180101.mli.par",
		"gamma version = 99.99.99",
		"dem source = Unknown",
		"processing log = /w/processing.log",
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("manifest missing %q", line)
		}
	}
}

func TestManifest_WriteFile(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{Layout: Layout{OutDir: filepath.Join(dir, "ifm"), Reference: "a", Name: "a_b"}, WorkDir: dir, Secondary: "b"}

	path, err := m.WriteFile()
	if err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if path != filepath.Join(dir, ManifestName) {
		t.Errorf("unexpected manifest path %s", path)
	}
}
