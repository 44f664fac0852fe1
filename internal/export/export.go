// Package export writes event catalogs in GIS and spreadsheet formats.
package export

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/fault"
	"github.com/sells-group/tdreloc/internal/model"
)

// Format names an export target.
type Format string

const (
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shp"
	FormatXLSX      Format = "xlsx"
)

// ParseFormat validates a format name. "shapefile" and "json" are accepted
// as aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "shp", "shapefile":
		return FormatShapefile, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fault.NewConfigError("export.format", "unknown format %q", s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	if f == FormatGeoJSON {
		return ".geojson"
	}
	return "." + string(f)
}

// OutputPath replaces the extension of the catalog path with the format's.
func OutputPath(catalog, outDir string, f Format) string {
	base := strings.TrimSuffix(filepath.Base(catalog), filepath.Ext(catalog))
	if outDir == "" {
		outDir = filepath.Dir(catalog)
	}
	return filepath.Join(outDir, base+f.Ext())
}

// Records snapshots catalog events in catalog order.
func Records(runID string, events []*model.Event) []model.EventRecord {
	out := make([]model.EventRecord, len(events))
	for i, e := range events {
		out[i] = model.NewEventRecord(runID, i, e)
	}
	return out
}

// Write exports events to path in the given format.
func Write(path string, f Format, events []model.EventRecord) error {
	switch f {
	case FormatGeoJSON:
		return WriteGeoJSONFile(path, events)
	case FormatShapefile:
		return WriteShapefile(path, events)
	case FormatXLSX:
		return WriteXLSX(path, events)
	}
	return eris.Errorf("export: unsupported format %q", f)
}
