package product

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/planetlabs/go-stac"
	"github.com/robert-malhotra/s1-insar/internal/granule"
	"github.com/robert-malhotra/s1-insar/pkg/geojson"
)

const stacVersion = "1.0.0"

// ItemInfo carries the run metadata recorded in the product STAC item.
type ItemInfo struct {
	Reference        *granule.Name
	Secondary        *granule.Name
	Polarization     string
	BBox             []float64
	DEMSource        string
	ProcessorVersion string
	Looks            [2]int
}

// BuildItem describes the product files as a STAC item. Asset hrefs are
// relative to the product directory.
func BuildItem(id string, info ItemInfo, files []File) (*stac.Item, error) {
	if info.Reference == nil || info.Secondary == nil {
		return nil, fmt.Errorf("reference and secondary acquisitions are required")
	}

	item := &stac.Item{
		Version:    stacVersion,
		Id:         id,
		Properties: make(map[string]any),
		Assets:     make(map[string]*stac.Asset),
		Links:      make([]*stac.Link, 0),
	}

	if len(info.BBox) == 4 {
		geom, err := geojson.NewPolygonFromBBox(info.BBox)
		if err != nil {
			return nil, fmt.Errorf("failed to build footprint: %w", err)
		}
		item.Geometry = geom
		item.Bbox = info.BBox
	}

	ref, sec := info.Reference, info.Secondary
	item.Properties["datetime"] = nil
	item.Properties["start_datetime"] = ref.Start.UTC().Format(time.RFC3339)
	item.Properties["end_datetime"] = sec.Stop.UTC().Format(time.RFC3339)
	item.Properties["platform"] = platform(ref.Mission)
	item.Properties["constellation"] = "sentinel-1"
	item.Properties["instruments"] = []string{"c-sar"}
	item.Properties["sar:instrument_mode"] = ref.BeamMode
	item.Properties["sar:frequency_band"] = "C"
	item.Properties["sar:product_type"] = "INSAR"
	if info.Polarization != "" {
		item.Properties["sar:polarizations"] = []string{strings.ToUpper(info.Polarization)}
	}
	if info.Looks[0] > 0 && info.Looks[1] > 0 {
		item.Properties["sar:looks_range"] = info.Looks[0]
		item.Properties["sar:looks_azimuth"] = info.Looks[1]
	}
	item.Properties["sat:absolute_orbit"] = ref.AbsoluteOrbit
	item.Properties["processing:level"] = "L2"
	if info.ProcessorVersion != "" {
		item.Properties["processing:software"] = map[string]string{"gamma": info.ProcessorVersion}
	}
	item.Properties["insar:reference"] = ref.Raw
	item.Properties["insar:secondary"] = sec.Raw
	item.Properties["insar:temporal_baseline"] = int(sec.Start.Sub(ref.Start).Hours() / 24)
	if info.DEMSource != "" {
		item.Properties["dem:source"] = info.DEMSource
	}

	for _, f := range files {
		key := string(f.Kind)
		roles := []string{"data"}
		if f.Kind == KindColorBrowse || f.Kind == KindUnwrapBrowse {
			key = strings.TrimPrefix(f.Name, id+"_")
			roles = []string{"overview"}
		}
		item.Assets[key] = &stac.Asset{
			Href:  "./" + f.Name,
			Title: assetTitle(f.Kind),
			Type:  mediaType(f.Name),
			Roles: roles,
		}
	}

	return item, nil
}

// WriteItem writes the item as indented JSON.
func WriteItem(item *stac.Item, path string) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal STAC item: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write STAC item: %w", err)
	}
	return nil
}

func platform(mission string) string {
	if len(mission) == 3 {
		return "sentinel-1" + strings.ToLower(mission[2:])
	}
	return strings.ToLower(mission)
}

func assetTitle(kind Kind) string {
	switch kind {
	case KindAmplitude:
		return "Reference amplitude"
	case KindCoherence:
		return "Filtered coherence"
	case KindVertDisp:
		return "Vertical displacement"
	case KindUnwPhase:
		return "Unwrapped phase"
	case KindLOSDisp:
		return "Line-of-sight displacement"
	case KindIncidence:
		return "Incidence angle"
	case KindLookTheta:
		return "Look vector theta"
	case KindLookPhi:
		return "Look vector phi"
	case KindColorBrowse:
		return "Color phase browse"
	case KindUnwrapBrowse:
		return "Unwrapped phase browse"
	default:
		return string(kind)
	}
}

func mediaType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".tif"), strings.HasSuffix(name, ".tiff"):
		return "image/tiff; application=geotiff"
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".kmz"):
		return "application/vnd.google-earth.kmz"
	case strings.HasSuffix(name, ".kml"):
		return "application/vnd.google-earth.kml+xml"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
