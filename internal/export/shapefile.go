package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/model"
)

// Attribute columns of the shapefile, in dBase field order.
var shpFields = []shp.Field{
	shp.StringField("TIME", 32),
	shp.StringField("MODE", 8),
	shp.NumberField("CID", 10),
	shp.FloatField("DEPTH", 12, 3),
	shp.FloatField("RMS", 12, 4),
	shp.FloatField("XERR", 12, 3),
	shp.FloatField("YERR", 12, 3),
	shp.FloatField("ZERR", 12, 3),
}

// WriteShapefile writes events as POINT shapes with one attribute row each.
// path names the .shp file; the .shx and .dbf siblings are written next to it.
func WriteShapefile(path string, events []model.EventRecord) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}

	if err := writeShapes(w, events); err != nil {
		w.Close()
		return err
	}
	w.Close()

	// go-shp v0.1.1 names the attribute table "<base>dbf", without the dot.
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrapf(err, "export: rename dbf for %s", path)
	}
	return nil
}

func writeShapes(w *shp.Writer, events []model.EventRecord) error {
	if err := w.SetFields(shpFields); err != nil {
		return eris.Wrap(err, "export: set shapefile fields")
	}
	for _, e := range events {
		n := int(w.Write(&shp.Point{X: e.Lon, Y: e.Lat}))
		attrs := []any{e.Time, e.Mode, e.ClusterID, e.Dep, e.RMS, e.ErrLon, e.ErrLat, e.ErrDep}
		for field, v := range attrs {
			if err := w.WriteAttribute(n, field, v); err != nil {
				return eris.Wrapf(err, "export: write attribute %d of event %d", field, e.Seq)
			}
		}
	}
	return nil
}
