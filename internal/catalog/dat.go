package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tdreloc/internal/model"
)

// Dat is the content of a per-event .dat file.
type Dat struct {
	Lat, Lon, Dep          float64
	Mode                   string
	ErrLat, ErrLon, ErrDep float64
	RMS                    float64
	Lags                   []model.LagRow
	Used                   []int
	// Unknown counts pick rows naming a station missing from the table.
	Unknown int
}

// DecodeDat reads a .dat file:
//
//	lat lon dep mode
//	elat elon edep res          (optional)
//	codeA codeB lag [weight]    (repeated)
//
// Pick rows are kept when threshold ≤ 0 or weight ≥ threshold. The weight
// defaults to 1.
func DecodeDat(r io.Reader, stations *model.StationTable, threshold float64) (*Dat, error) {
	sc := bufio.NewScanner(r)
	var lines []string
	for sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "" {
			lines = append(lines, t)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "dat: scan")
	}
	if len(lines) == 0 {
		return nil, eris.New("dat: empty file")
	}

	d := &Dat{}
	head := strings.Fields(lines[0])
	if len(head) < 3 {
		return nil, eris.Errorf("dat: header has %d fields, want at least 3", len(head))
	}
	hv, err := parseFloats(head[:3])
	if err != nil {
		return nil, eris.Wrap(err, "dat: header")
	}
	d.Lat, d.Lon, d.Dep = hv[0], hv[1], hv[2]
	if len(head) > 3 {
		d.Mode = strings.ToUpper(head[3])
	}

	rest := lines[1:]
	if len(rest) > 0 {
		f := strings.Fields(rest[0])
		if len(f) >= 4 {
			if ev, err := parseFloats(f[:4]); err == nil {
				d.ErrLat, d.ErrLon, d.ErrDep, d.RMS = ev[0], ev[1], ev[2], ev[3]
				rest = rest[1:]
			}
		}
	}

	seen := make(map[int]bool)
	for _, text := range rest {
		f := strings.Fields(text)
		if len(f) < 3 {
			continue
		}
		lag, err := strconv.ParseFloat(f[2], 64)
		if err != nil {
			return nil, eris.Wrapf(err, "dat: lag %q", f[2])
		}
		weight := 1.0
		if len(f) > 3 {
			if weight, err = strconv.ParseFloat(f[3], 64); err != nil {
				return nil, eris.Wrapf(err, "dat: weight %q", f[3])
			}
		}
		a, okA := stations.Index(f[0])
		b, okB := stations.Index(f[1])
		if !okA || !okB {
			d.Unknown++
			continue
		}
		if threshold > 0 && weight < threshold {
			continue
		}
		d.Lags = append(d.Lags, model.LagRow{StationA: a, StationB: b, Lag: lag, Weight: weight})
		for _, s := range []int{a, b} {
			if !seen[s] {
				seen[s] = true
				d.Used = append(d.Used, s)
			}
		}
	}
	return d, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EncodeDat writes the event in .dat form using the station codes for pick
// rows. Rows referencing an unknown station index are dropped.
func EncodeDat(w io.Writer, e *model.Event, codes []string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%.3f %.3f %.3f %s\n", e.Lat, e.Lon, e.Dep, e.CatalogMode())
	fmt.Fprintf(bw, "%.3f %.3f %.3f %.3f\n", e.ErrLat, e.ErrLon, e.ErrDep, e.RMS)
	for _, r := range e.Lags {
		if r.StationA >= len(codes) || r.StationB >= len(codes) || r.StationA < 0 || r.StationB < 0 {
			continue
		}
		fmt.Fprintf(bw, "%s %s %.3f %.3f\n", codes[r.StationA], codes[r.StationB], r.Lag, r.Weight)
	}
	return eris.Wrap(bw.Flush(), "dat: write")
}

// LoadDat reads the .dat file at path.
func LoadDat(path, encoding string, stations *model.StationTable, threshold float64) (*Dat, error) {
	rc, err := openText(path, encoding)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	d, err := DecodeDat(rc, stations, threshold)
	if err != nil {
		return nil, eris.Wrapf(err, "dat: load %s", path)
	}
	return d, nil
}

// SaveDat writes e to path.
func SaveDat(path string, e *model.Event, codes []string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dat: create %s", path)
	}
	err = EncodeDat(f, e, codes)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "dat: close %s", path)
	}
	return err
}

// AttachLags loads each event's .dat file from dir and stores its pick
// rows. Events whose file is missing or unreadable keep an empty lag table
// and are logged; the returned count is the number of events with picks.
func AttachLags(events []*model.Event, dir, encoding string, stations *model.StationTable, threshold float64) int {
	loaded := 0
	for i, e := range events {
		if e.File == "" {
			zap.L().Warn("dat: event has no file name", zap.Int("event", i), zap.String("time", e.Time))
			continue
		}
		path := e.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		d, err := LoadDat(path, encoding, stations, threshold)
		if err != nil {
			zap.L().Warn("dat: cannot load picks",
				zap.Int("event", i),
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		if d.Unknown > 0 {
			zap.L().Debug("dat: picks reference unknown stations",
				zap.String("path", path),
				zap.Int("rows", d.Unknown),
			)
		}
		e.Lags, e.Used = d.Lags, d.Used
		if len(e.Lags) > 0 {
			loaded++
		}
	}
	return loaded
}

// DatName returns the output .dat file name for event i.
func DatName(e *model.Event, i int) string {
	if e.File != "" {
		return filepath.Base(e.File)
	}
	return fmt.Sprintf("event_%05d.dat", i)
}
