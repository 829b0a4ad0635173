package bytesource

import (
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/g-insana/ffdb/internal/sideindex"
)

// GzipKind tells Open whether (and how) to wrap the opened source in a
// Gzip decoder.
type GzipKind int

const (
	GzipNone GzipKind = iota
	GzipWholeFile
)

// OpenOptions parameterizes Open.
type OpenOptions struct {
	Gzip         GzipKind
	SideIndexURL string // local path or http(s)/ftp URL of the .gzi table; required when Gzip != GzipNone
	CacheDir     string // local cache dir for remote gzip members; "" disables caching
	Remote       RemoteOptions
}

// Open selects a Source implementation by URL scheme and gzipKind, an
// explicit factory in place of duck-typed source selection.
func Open(rawURL string, opts OpenOptions) (Source, error) {
	var base Source
	var err error

	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"), strings.HasPrefix(rawURL, "ftp://"):
		base, err = OpenRemote(rawURL, opts.Remote)
	default:
		base, err = OpenLocal(rawURL)
	}
	if err != nil {
		return nil, err
	}

	if opts.Gzip == GzipNone {
		return base, nil
	}

	if opts.SideIndexURL == "" {
		return nil, errors.New("gzip source requires a side index path")
	}

	table, err := loadSideIndex(opts.SideIndexURL)
	if err != nil {
		base.Close()
		return nil, errors.Wrap(err, "loading gzip side index")
	}

	return NewGzip(base, table, rawURL, opts.CacheDir)
}

func loadSideIndex(path string) (sideindex.Table, error) {
	f, err := Open(path, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx := context.Background()

	size, err := f.Size(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := f.Read(ctx, 0, size)
	if err != nil {
		return nil, err
	}

	return sideindex.Load(bytes.NewReader(raw))
}
