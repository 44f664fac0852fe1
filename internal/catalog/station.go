package catalog

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/model"
)

// DecodeStations reads a whitespace-separated station list:
//
//	code lat lon elevation_m p_correction s_correction
//
// Elevation is metres above sea level and is stored as depth in km
// (positive down). Blank lines and lines starting with # are ignored.
func DecodeStations(r io.Reader) (*model.StationTable, error) {
	var stations []model.Station
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.Fields(text)
		if len(f) < 6 {
			return nil, eris.Errorf("station: line %d: want 6 fields, got %d", line, len(f))
		}
		var v [5]float64
		for k := range v {
			x, err := strconv.ParseFloat(f[k+1], 64)
			if err != nil {
				return nil, eris.Wrapf(err, "station: line %d field %d", line, k+2)
			}
			v[k] = x
		}
		stations = append(stations, model.Station{
			Code:  f[0],
			Lat:   v[0],
			Lon:   v[1],
			Dep:   -v[2] / 1000,
			PCorr: v[3],
			SCorr: v[4],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "station: scan")
	}
	if len(stations) == 0 {
		return nil, eris.New("station: no stations")
	}
	tbl, err := model.NewStationTable(stations)
	if err != nil {
		return nil, eris.Wrap(err, "station: validate")
	}
	return tbl, nil
}

// LoadStations reads the station file at path.
func LoadStations(path, encoding string) (*model.StationTable, error) {
	rc, err := openText(path, encoding)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	tbl, err := DecodeStations(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "station: load %s", path)
	}
	return tbl, nil
}
