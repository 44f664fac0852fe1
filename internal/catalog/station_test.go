package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/htmlindex"
)

const sampleStations = `# code lat lon elev_m pc sc
N.AAA 35.000 139.000 120 0.01 0.02

N.BBB 35.200 139.300 -1500 -0.01 0.05
N.CCC 34.900 139.200 0 0 0
`

func TestDecodeStations(t *testing.T) {
	tbl, err := DecodeStations(strings.NewReader(sampleStations))
	require.NoError(t, err)

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"N.AAA", "N.BBB", "N.CCC"}, tbl.Codes())
	assert.InDelta(t, -0.12, tbl.Stations[0].Dep, 1e-12)
	assert.InDelta(t, 1.5, tbl.Stations[1].Dep, 1e-12)
	assert.InDelta(t, 0.05, tbl.Stations[1].SCorr, 0)
	assert.InDelta(t, 1.51, tbl.BottomDepth, 1e-12)
}

func TestDecodeStations_Errors(t *testing.T) {
	_, err := DecodeStations(strings.NewReader("AAA 35 139\n"))
	assert.ErrorContains(t, err, "want 6 fields")

	_, err = DecodeStations(strings.NewReader("AAA 35 x 0 0 0\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = DecodeStations(strings.NewReader("AAA 91 139 0 0 0\n"))
	assert.ErrorContains(t, err, "invalid position")

	_, err = DecodeStations(strings.NewReader("# nothing\n"))
	assert.ErrorContains(t, err, "no stations")
}

func TestLoadStations_ShiftJIS(t *testing.T) {
	enc, err := htmlindex.Get("shift_jis")
	require.NoError(t, err)
	body, err := enc.NewEncoder().String("# 観測点一覧\n東京 35.68 139.76 40 0 0\n")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "stations.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tbl, err := LoadStations(path, "shift_jis")
	require.NoError(t, err)
	assert.Equal(t, []string{"東京"}, tbl.Codes())

	_, err = LoadStations(path, "no-such-charset")
	assert.ErrorContains(t, err, "unsupported encoding")
}
