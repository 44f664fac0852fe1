// Package catalog reads and writes the event catalog, the station list and
// the per-event .dat pick files.
package catalog

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeReader wraps r so that text in the named encoding is read as UTF-8.
// An empty name or any UTF-8 alias returns r unchanged.
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: unsupported encoding %q", encoding)
	}
	return enc.NewDecoder().Reader(r), nil
}

type decodedFile struct {
	io.Reader
	f *os.File
}

func (d *decodedFile) Close() error { return d.f.Close() }

// openText opens path for reading, decoding from the given encoding.
func openText(path, encoding string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: open %s", path)
	}
	r, err := decodeReader(f, encoding)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &decodedFile{Reader: r, f: f}, nil
}
