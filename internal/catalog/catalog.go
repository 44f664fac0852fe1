package catalog

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/model"
)

// Header is the catalog CSV header.
var Header = []string{"time", "latitude", "longitude", "depth", "xerr", "yerr", "zerr", "rms", "file", "mode", "cid"}

type row struct {
	Time string  `csv:"time"`
	Lat  float64 `csv:"latitude"`
	Lon  float64 `csv:"longitude"`
	Dep  float64 `csv:"depth"`
	XErr float64 `csv:"xerr"`
	YErr float64 `csv:"yerr"`
	ZErr float64 `csv:"zerr"`
	RMS  float64 `csv:"rms"`
	File string  `csv:"file"`
	Mode string  `csv:"mode"`
	CID  string  `csv:"cid"`
}

// Decode reads a catalog. Columns are matched by header name; a missing or
// empty cid marks the event as not yet clustered.
func Decode(r io.Reader) ([]*model.Event, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("catalog: empty file")
		}
		return nil, eris.Wrap(err, "catalog: read header")
	}

	var events []*model.Event
	for line := 2; ; line++ {
		var rw row
		if err := dec.Decode(&rw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "catalog: line %d", line)
		}
		e, err := rw.event()
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: line %d", line)
		}
		events = append(events, e)
	}
	return events, nil
}

func (r row) event() (*model.Event, error) {
	if !model.ValidPosition(r.Lat, r.Lon, r.Dep) {
		return nil, eris.Errorf("invalid position lat=%g lon=%g dep=%g", r.Lat, r.Lon, r.Dep)
	}
	cid := model.ClusterUnset
	if s := strings.TrimSpace(r.CID); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, eris.Wrapf(err, "parse cid %q", s)
		}
		cid = v
	}
	mode := strings.ToUpper(strings.TrimSpace(r.Mode))
	return &model.Event{
		Time:      strings.TrimSpace(r.Time),
		Lat:       r.Lat,
		Lon:       r.Lon,
		Dep:       r.Dep,
		ErrLon:    r.XErr,
		ErrLat:    r.YErr,
		ErrDep:    r.ZErr,
		RMS:       r.RMS,
		File:      strings.TrimSpace(r.File),
		State:     model.StateFromMode(mode),
		Mode:      mode,
		ClusterID: cid,
	}, nil
}

// Encode writes events with six-decimal coordinates and three-decimal
// depth, errors and rms. Events that were never clustered get an empty cid.
func Encode(w io.Writer, events []*model.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "catalog: write header")
	}
	for _, e := range events {
		cid := ""
		if e.Clustered() {
			cid = strconv.Itoa(e.ClusterID)
		}
		rec := []string{
			e.Time,
			f6(e.Lat), f6(e.Lon),
			f3(e.Dep), f3(e.ErrLon), f3(e.ErrLat), f3(e.ErrDep), f3(e.RMS),
			e.File, e.CatalogMode(), cid,
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "catalog: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "catalog: flush")
}

func f6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func f3(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

// Load reads the catalog at path in the given text encoding.
func Load(path, encoding string) ([]*model.Event, error) {
	rc, err := openText(path, encoding)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	events, err := Decode(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: load %s", path)
	}
	if len(events) == 0 {
		return nil, eris.Errorf("catalog: %s has no events", path)
	}
	return events, nil
}

// Save writes the catalog to path.
func Save(path string, events []*model.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "catalog: create %s", path)
	}
	err = Encode(f, events)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "catalog: close %s", path)
	}
	return err
}

// Clusters groups event positions by cluster id (ids ≥ 1 only), keeping
// catalog order inside each group. The ids are returned ascending.
func Clusters(events []*model.Event) (ids []int, members map[int][]int) {
	members = make(map[int][]int)
	for i, e := range events {
		if e.ClusterID < 1 {
			continue
		}
		if _, ok := members[e.ClusterID]; !ok {
			ids = append(ids, e.ClusterID)
		}
		members[e.ClusterID] = append(members[e.ClusterID], i)
	}
	slices.Sort(ids)
	return ids, members
}
