// Package annotation reads Sentinel-1 sub-swath annotation XML: burst
// azimuth-anchor times, the declared burst count and the geolocation grid.
package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMetadataNotFound is returned when no annotation file matches a sub-swath.
	ErrMetadataNotFound = errors.New("annotation metadata not found")

	// ErrMetadataMalformed is returned when a matched annotation file lacks
	// or contradicts the burst count.
	ErrMetadataMalformed = errors.New("annotation metadata malformed")
)

// Swath identifies one of the three IW sub-swaths (1-3).
type Swath int

// Swaths lists the IW sub-swaths in table order.
var Swaths = []Swath{1, 2, 3}

// Pattern returns the annotation file-name suffix for the sub-swath.
func (s Swath) Pattern() string {
	return fmt.Sprintf("%03d.xml", int(s))
}

// Valid reports whether s is one of the three IW sub-swaths.
func (s Swath) Valid() bool {
	return s >= 1 && s <= 3
}

// GeoPoint is a geolocation grid tie point in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// SwathTiming holds what the pipeline needs from one annotation file.
type SwathTiming struct {
	Swath Swath
	File  string
	// Times are the azimuthAnxTime values in document order.
	Times []float64
	// Total is the burstList count attribute.
	Total int
	Grid  []GeoPoint
}

// Dir returns the annotation directory of an acquisition (SAFE) directory.
func Dir(acquisitionDir string) string {
	return filepath.Join(acquisitionDir, "annotation")
}

// ExtractBurstTimes returns the ordered burst azimuth-anchor times and the
// declared burst count of a sub-swath. dir is the annotation directory.
func ExtractBurstTimes(dir string, swath Swath) ([]float64, int, error) {
	st, err := ReadSwath(dir, swath)
	if err != nil {
		return nil, 0, err
	}
	return st.Times, st.Total, nil
}

// ReadSwath locates and parses the annotation file of a sub-swath.
func ReadSwath(dir string, swath Swath) (*SwathTiming, error) {
	if !swath.Valid() {
		return nil, fmt.Errorf("invalid sub-swath %d", swath)
	}

	path, err := FindFile(dir, swath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation %q: %w", path, err)
	}
	defer f.Close()

	st, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("annotation %q: %w", path, err)
	}
	st.Swath = swath
	st.File = path
	return st, nil
}

// FindFile returns the first annotation file, in lexical order, whose name
// ends with the sub-swath pattern.
func FindFile(dir string, swath Swath) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: sub-swath %d in %q: %v", ErrMetadataNotFound, swath, dir, err)
	}

	var matches []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(entry.Name(), swath.Pattern()) {
			matches = append(matches, entry.Name())
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no %s file for sub-swath %d in %q", ErrMetadataNotFound, swath.Pattern(), swath, dir)
	}

	sort.Strings(matches)
	return filepath.Join(dir, matches[0]), nil
}

// Parse decodes annotation XML from r. Elements are matched by local name at
// any depth so the reader is not tied to a particular product schema version.
func Parse(r io.Reader) (*SwathTiming, error) {
	dec := xml.NewDecoder(r)

	st := &SwathTiming{Total: -1}
	var (
		inGridPoint bool
		point       GeoPoint
		haveLat     bool
		haveLon     bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataMalformed, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "burstList":
				count, err := countAttr(el)
				if err != nil {
					return nil, err
				}
				st.Total = count

			case "azimuthAnxTime":
				v, err := readFloat(dec, el)
				if err != nil {
					return nil, err
				}
				st.Times = append(st.Times, v)

			case "geolocationGridPoint":
				inGridPoint = true
				point, haveLat, haveLon = GeoPoint{}, false, false

			case "latitude", "longitude":
				if !inGridPoint {
					continue
				}
				v, err := readFloat(dec, el)
				if err != nil {
					return nil, err
				}
				if el.Name.Local == "latitude" {
					point.Lat, haveLat = v, true
				} else {
					point.Lon, haveLon = v, true
				}
			}

		case xml.EndElement:
			if el.Name.Local == "geolocationGridPoint" {
				if haveLat && haveLon {
					st.Grid = append(st.Grid, point)
				}
				inGridPoint = false
			}
		}
	}

	if st.Total < 0 {
		return nil, fmt.Errorf("%w: burstList count attribute is absent", ErrMetadataMalformed)
	}
	if st.Total != len(st.Times) {
		return nil, fmt.Errorf("%w: burstList count %d but %d azimuthAnxTime entries", ErrMetadataMalformed, st.Total, len(st.Times))
	}

	return st, nil
}

// ReadFootprint collects the geolocation grid of all three sub-swaths.
func ReadFootprint(dir string) ([]GeoPoint, error) {
	var points []GeoPoint
	for _, swath := range Swaths {
		st, err := ReadSwath(dir, swath)
		if err != nil {
			return nil, err
		}
		points = append(points, st.Grid...)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no geolocation grid points in %q", ErrMetadataMalformed, dir)
	}
	return points, nil
}

func countAttr(el xml.StartElement) (int, error) {
	for _, attr := range el.Attr {
		if attr.Name.Local != "count" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(attr.Value))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: invalid burstList count %q", ErrMetadataMalformed, attr.Value)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: burstList count attribute is absent", ErrMetadataMalformed)
}

func readFloat(dec *xml.Decoder, el xml.StartElement) (float64, error) {
	var text string
	if err := dec.DecodeElement(&text, &el); err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrMetadataMalformed, el.Name.Local, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s value %q is not a number", ErrMetadataMalformed, el.Name.Local, text)
	}
	return v, nil
}
