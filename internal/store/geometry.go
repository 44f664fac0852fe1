package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/tdreloc/internal/model"
)

// SRID of stored event geometries (WGS 84, depth in km as Z).
const SRID = 4326

// encodePoint returns the EWKB POINT Z of an event record.
func encodePoint(e model.EventRecord) ([]byte, error) {
	p := geom.NewPointFlat(geom.XYZ, []float64{e.Lon, e.Lat, e.Dep}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal ewkb")
	}
	return data, nil
}

// decodePoint fills Lon, Lat and Dep of e from an EWKB POINT Z.
func decodePoint(data []byte, e *model.EventRecord) error {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return eris.Wrap(err, "store: unmarshal ewkb")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return eris.Errorf("store: geometry is %T, want point", g)
	}
	if p.Layout() != geom.XYZ {
		return eris.Errorf("store: point layout %v, want XYZ", p.Layout())
	}
	e.Lon, e.Lat, e.Dep = p.X(), p.Y(), p.Z()
	return nil
}
