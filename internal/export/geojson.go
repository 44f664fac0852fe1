package export

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/tdreloc/internal/model"
)

// FeatureCollection maps events to Point XYZ features (lon, lat, depth km).
func FeatureCollection(events []model.EventRecord) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(events))}
	for _, e := range events {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XYZ, []float64{e.Lon, e.Lat, e.Dep}),
			Properties: map[string]any{
				"seq":  e.Seq,
				"time": e.Time,
				"xerr": e.ErrLon,
				"yerr": e.ErrLat,
				"zerr": e.ErrDep,
				"rms":  e.RMS,
				"mode": e.Mode,
				"cid":  e.ClusterID,
			},
		})
	}
	return fc
}

// WriteGeoJSON encodes events as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, events []model.EventRecord) error {
	data, err := json.Marshal(FeatureCollection(events))
	if err != nil {
		return eris.Wrap(err, "export: marshal geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}

func WriteGeoJSONFile(path string, events []model.EventRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteGeoJSON(f, events); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}
