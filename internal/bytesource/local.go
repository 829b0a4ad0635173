package bytesource

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

// Local reads directly from a positioned local file.
type Local struct {
	f *os.File
}

// OpenLocal opens path for random-access reads.
func OpenLocal(path string) (*Local, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening local flatfile")
	}
	return &Local{f: f}, nil
}

func (l *Local) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := l.f.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at offset %d", length, offset)
	}
	return buf, nil
}

func (l *Local) Size(ctx context.Context) (int64, error) {
	fi, err := l.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat local flatfile")
	}
	return fi.Size(), nil
}

func (l *Local) Close() error {
	return l.f.Close()
}
