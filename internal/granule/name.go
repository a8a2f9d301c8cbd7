// Package granule parses Sentinel-1 acquisition identifiers and derives the
// polarization channel to process from them.
package granule

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// sceneTimeFormat is the compact UTC timestamp used inside scene names.
const sceneTimeFormat = "20060102T150405"

// IWSLCMarker is the substring every accepted input identifier must carry.
const IWSLCMarker = "IW_SLC__"

// sceneNamePattern follows the Sentinel-1 SAFE naming convention:
// MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC
var sceneNamePattern = regexp.MustCompile(
	`^(S1[A-D])_` + // mission
		`([A-Z0-9]{2})_` + // beam mode (IW, EW, SM, S1..S6, WV)
		`([A-Z]{3})([FHM_])_` + // product type + resolution class
		`([0-2])([SA])([SD][HV]|HH|VV|HV|VH)_` + // level, class, polarization
		`(\d{8}T\d{6})_(\d{8}T\d{6})_` + // start / stop
		`(\d{6})_([0-9A-F]{6})_([0-9A-F]{4})$`, // orbit, datatake, unique id
)

// Name is a parsed Sentinel-1 acquisition identifier.
type Name struct {
	Raw           string
	Mission       string
	BeamMode      string
	ProductType   string
	Resolution    string
	Level         int
	Class         string
	Polarization  string
	Start         time.Time
	Stop          time.Time
	AbsoluteOrbit int
	DatatakeID    string
	UniqueID      string
}

// Parse validates an acquisition path or identifier against the naming
// grammar. Directory components and a trailing .SAFE or .zip are ignored.
func Parse(path string) (*Name, error) {
	base := filepath.Base(strings.TrimRight(path, `/\`))
	base = strings.TrimSuffix(base, ".SAFE")
	base = strings.TrimSuffix(base, ".zip")

	m := sceneNamePattern.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("%w: %q does not match the Sentinel-1 naming grammar", ErrMalformedName, base)
	}

	start, err := time.Parse(sceneTimeFormat, m[8])
	if err != nil {
		return nil, fmt.Errorf("%w: start time %q: %v", ErrMalformedName, m[8], err)
	}
	stop, err := time.Parse(sceneTimeFormat, m[9])
	if err != nil {
		return nil, fmt.Errorf("%w: stop time %q: %v", ErrMalformedName, m[9], err)
	}
	if stop.Before(start) {
		return nil, fmt.Errorf("%w: stop time %s precedes start time %s", ErrMalformedName, m[9], m[8])
	}

	level, _ := strconv.Atoi(m[5])
	orbit, _ := strconv.Atoi(m[10])

	return &Name{
		Raw:           base,
		Mission:       m[1],
		BeamMode:      m[2],
		ProductType:   m[3],
		Resolution:    m[4],
		Level:         level,
		Class:         m[6],
		Polarization:  m[7],
		Start:         start.UTC(),
		Stop:          stop.UTC(),
		AbsoluteOrbit: orbit,
		DatatakeID:    m[11],
		UniqueID:      m[12],
	}, nil
}

// IsIWSLC reports whether the identifier names an IW single-look-complex product.
func (n *Name) IsIWSLC() bool {
	return strings.Contains(n.Raw, IWSLCMarker)
}

// DateTime returns the acquisition start as YYYYMMDDTHHMMSS.
func (n *Name) DateTime() string {
	return n.Start.Format(sceneTimeFormat)
}

// Date returns the acquisition start date as YYYYMMDD.
func (n *Name) Date() string {
	return n.Start.Format("20060102")
}

// String returns the identifier as it was parsed.
func (n *Name) String() string {
	return n.Raw
}

// ParsePair parses and validates the reference/secondary identifiers of an
// interferometric run. Both must be IW SLC products. No file is touched.
func ParsePair(reference, secondary string) (*Name, *Name, error) {
	ref, err := parseInput("reference", reference)
	if err != nil {
		return nil, nil, err
	}
	sec, err := parseInput("secondary", secondary)
	if err != nil {
		return nil, nil, err
	}
	return ref, sec, nil
}

func parseInput(role, path string) (*Name, error) {
	if !strings.Contains(filepath.Base(path), IWSLCMarker) {
		return nil, fmt.Errorf("%w: %s file %q is not of type IW_SLC", ErrInvalidInputProduct, role, path)
	}
	n, err := Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s file: %w", ErrInvalidInputProduct, role, err)
	}
	return n, nil
}
