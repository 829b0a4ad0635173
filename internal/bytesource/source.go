// Package bytesource implements the uniform random-access byte contract
// over local files, remote HTTP/FTP ranges, and whole-file gzip streams.
package bytesource

import (
	"context"

	"github.com/pkg/errors"
)

// ErrRangeUnsupported is returned when an HTTP(S) server answers a ranged
// request with 200 instead of 206, or an FTP retrieval from an offset
// fails. The file size is not considered: no whole-file download is
// attempted as a fallback.
var ErrRangeUnsupported = errors.New("server does not support byte-range requests")

// Source is the capability every implementation satisfies: a pure,
// concurrency-safe function of its arguments. This is an explicit
// interface plus factory, in place of a pluggable byte source selected
// by duck typing.
type Source interface {
	// Read returns exactly length bytes starting at offset.
	Read(ctx context.Context, offset, length int64) ([]byte, error)

	// Size returns the total byte length of the logical (decoded, for
	// Gzip) stream.
	Size(ctx context.Context) (int64, error)

	// Close releases any held resources (connections, file handles,
	// cache locks).
	Close() error
}
