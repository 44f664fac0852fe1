package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tdreloc/internal/model"
)

// SheetName is the worksheet events are written to.
const SheetName = "events"

var xlsxHeader = []string{"time", "latitude", "longitude", "depth", "xerr", "yerr", "zerr", "rms", "mode", "cid"}

// WriteXLSX writes a header row and one row per event.
func WriteXLSX(path string, events []model.EventRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}

	for _, e := range events {
		row := sheet.AddRow()
		row.AddCell().SetString(e.Time)
		row.AddCell().SetFloatWithFormat(e.Lat, "0.000000")
		row.AddCell().SetFloatWithFormat(e.Lon, "0.000000")
		for _, v := range []float64{e.Dep, e.ErrLon, e.ErrLat, e.ErrDep, e.RMS} {
			row.AddCell().SetFloatWithFormat(v, "0.000")
		}
		row.AddCell().SetString(e.Mode)
		row.AddCell().SetInt(e.ClusterID)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
