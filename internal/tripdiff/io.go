package tripdiff

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tdreloc/internal/model"
)

// Format is a triple-difference file encoding.
type Format string

const (
	FormatBinary Format = "bin"
	FormatCSV    Format = "csv"
)

// ParseFormat accepts "bin", "binary" or "csv".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bin", "binary", "":
		return FormatBinary, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", eris.Errorf("tripdiff: unknown format %q", s)
}

// CSVHeader is the header line of the CSV encoding.
const CSVHeader = "eve0,eve1,stn0,stn1,tdTime,distKm,clusterId"

// FileName returns the per-cluster file name, e.g. triple_diff_3.bin.
func FileName(clusterID int, f Format) string {
	return fmt.Sprintf("triple_diff_%d.%s", clusterID, f)
}

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatBinary
}

// record is the fixed big-endian on-disk layout.
type record struct {
	Eve0, Eve1, Stn0, Stn1 int32
	Lag, Dist              float64
	ClusterID              int32
}

// WriteBinary writes a record count followed by fixed-size records, all
// big-endian.
func WriteBinary(w io.Writer, tds []model.TripleDifference) error {
	if len(tds) > math.MaxInt32 {
		return eris.Errorf("tripdiff: %d records exceed the format limit", len(tds))
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.BigEndian, int32(len(tds))); err != nil {
		return eris.Wrap(err, "tripdiff: write count")
	}
	for _, td := range tds {
		rec := record{
			Eve0:      int32(td.Event0),
			Eve1:      int32(td.Event1),
			Stn0:      int32(td.Station0),
			Stn1:      int32(td.Station1),
			Lag:       td.Lag,
			Dist:      td.DistKm,
			ClusterID: int32(td.ClusterID),
		}
		if err := binary.Write(bw, binary.BigEndian, &rec); err != nil {
			return eris.Wrap(err, "tripdiff: write record")
		}
	}
	return eris.Wrap(bw.Flush(), "tripdiff: flush")
}

// ReadBinary reads the encoding written by WriteBinary.
func ReadBinary(r io.Reader) ([]model.TripleDifference, error) {
	br := bufio.NewReader(r)
	var n int32
	if err := binary.Read(br, binary.BigEndian, &n); err != nil {
		return nil, eris.Wrap(err, "tripdiff: read count")
	}
	if n < 0 {
		return nil, eris.Errorf("tripdiff: negative record count %d", n)
	}
	tds := make([]model.TripleDifference, 0, n)
	for i := int32(0); i < n; i++ {
		var rec record
		if err := binary.Read(br, binary.BigEndian, &rec); err != nil {
			return nil, eris.Wrapf(err, "tripdiff: read record %d of %d", i, n)
		}
		tds = append(tds, model.TripleDifference{
			Event0:    int(rec.Eve0),
			Event1:    int(rec.Eve1),
			Station0:  int(rec.Stn0),
			Station1:  int(rec.Stn1),
			Lag:       rec.Lag,
			DistKm:    rec.Dist,
			ClusterID: int(rec.ClusterID),
		})
	}
	return tds, nil
}

// WriteCSV writes the CSV encoding with three-decimal floats.
func WriteCSV(w io.Writer, tds []model.TripleDifference) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, CSVHeader); err != nil {
		return eris.Wrap(err, "tripdiff: write header")
	}
	for _, td := range tds {
		if _, err := fmt.Fprintf(bw, "%d,%d,%d,%d,%.3f,%.3f,%d\n",
			td.Event0, td.Event1, td.Station0, td.Station1, td.Lag, td.DistKm, td.ClusterID); err != nil {
			return eris.Wrap(err, "tripdiff: write row")
		}
	}
	return eris.Wrap(bw.Flush(), "tripdiff: flush")
}

// ReadCSV reads the encoding written by WriteCSV.
func ReadCSV(r io.Reader) ([]model.TripleDifference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 7
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "tripdiff: read header")
	}
	if strings.Join(header, ",") != CSVHeader {
		return nil, eris.Errorf("tripdiff: unexpected header %q", strings.Join(header, ","))
	}

	var tds []model.TripleDifference
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "tripdiff: read line %d", line)
		}
		td, err := parseRow(row)
		if err != nil {
			return nil, eris.Wrapf(err, "tripdiff: line %d", line)
		}
		tds = append(tds, td)
	}
	return tds, nil
}

func parseRow(row []string) (model.TripleDifference, error) {
	var ints [5]int
	for k, col := range []int{0, 1, 2, 3, 6} {
		v, err := strconv.Atoi(strings.TrimSpace(row[col]))
		if err != nil {
			return model.TripleDifference{}, err
		}
		ints[k] = v
	}
	lag, err := strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
	if err != nil {
		return model.TripleDifference{}, err
	}
	dist, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64)
	if err != nil {
		return model.TripleDifference{}, err
	}
	return model.TripleDifference{
		Event0: ints[0], Event1: ints[1], Station0: ints[2], Station1: ints[3],
		Lag: lag, DistKm: dist, ClusterID: ints[4],
	}, nil
}

// Write encodes tds to path in the given format.
func Write(path string, tds []model.TripleDifference, f Format) error {
	fh, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tripdiff: create %s", path)
	}
	if f == FormatCSV {
		err = WriteCSV(fh, tds)
	} else {
		err = WriteBinary(fh, tds)
	}
	if cerr := fh.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "tripdiff: close %s", path)
	}
	return err
}

// Read decodes the file at path, choosing the format from its extension.
func Read(path string) ([]model.TripleDifference, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tripdiff: open %s", path)
	}
	defer func() { _ = fh.Close() }()

	if FormatFromPath(path) == FormatCSV {
		return ReadCSV(fh)
	}
	return ReadBinary(fh)
}
