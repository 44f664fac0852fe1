package catalog

import (
	"path/filepath"
	"strings"
)

const defaultBase = "catalog"

// OutputName derives the output catalog path for a processing mode: the
// lower-case mode is appended to the input base name once, so
// catalog_grd.csv becomes catalog_grd_cls.csv and then catalog_grd_cls_trd.csv.
func OutputName(input, mode, outDir string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if input == "" || base == "" || base == "." {
		base = defaultBase
	}
	if suffix := "_" + strings.ToLower(mode); mode != "" && !strings.HasSuffix(base, suffix) {
		base += suffix
	}
	return filepath.Join(outDir, base+".csv")
}
