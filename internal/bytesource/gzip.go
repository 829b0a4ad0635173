package bytesource

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/g-insana/ffdb/internal/sideindex"
)

// Gzip wraps an underlying Source holding compressed bytes plus a loaded
// side-index table, and exposes Read/Size over the decompressed stream.
type Gzip struct {
	underlying Source
	table      sideindex.Table

	decompressedSize int64

	// cache, when non-nil, stores decompressed member bytes keyed by
	// access-point id so repeated reads of a remote gzip don't
	// re-fetch the same compressed range.
	cache      *memberCache
	identifier string // used to derive cache keys: (url, access-point id, size)
}

// NewGzip wraps underlying with table. If cacheDir is non-empty, decoded
// members are cached on local disk keyed by (identifier, access-point
// index, member size).
func NewGzip(underlying Source, table sideindex.Table, identifier string, cacheDir string) (*Gzip, error) {
	if len(table) == 0 {
		return nil, errors.New("gzip side index has no access points")
	}

	g := &Gzip{
		underlying: underlying,
		table:      table,
		identifier: identifier,
	}

	if cacheDir != "" {
		g.cache = newMemberCache(cacheDir)
	}

	return g, nil
}

// Size returns the total decompressed size, computed lazily by resolving
// the last access point's member length.
func (g *Gzip) Size(ctx context.Context) (int64, error) {
	if g.decompressedSize > 0 {
		return g.decompressedSize, nil
	}

	compressedSize, err := g.underlying.Size(ctx)
	if err != nil {
		return 0, err
	}

	last := g.table[len(g.table)-1]
	memberBytes, err := g.decodeMember(ctx, len(g.table)-1, compressedSize)
	if err != nil {
		return 0, err
	}

	g.decompressedSize = last.UncompressedOffset + int64(len(memberBytes))
	return g.decompressedSize, nil
}

// Read implements the locate/range-read/inflate/skip-prefix sequence,
// spanning as many gzip members as needed.
func (g *Gzip) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	compressedSize, err := g.underlying.Size(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, length)
	want := offset + length

	idx := g.pointIndex(offset)

	for int64(len(out)) < length {
		if idx >= len(g.table) {
			return nil, errors.Errorf("gzip read past end of side index at offset %d", offset)
		}

		member, err := g.decodeMember(ctx, idx, compressedSize)
		if err != nil {
			return nil, err
		}

		memberStart := g.table[idx].UncompressedOffset
		memberEnd := memberStart + int64(len(member))

		skip := int64(0)
		if offset > memberStart {
			skip = offset - memberStart
		}

		take := memberEnd
		if want < take {
			take = want
		}
		take -= memberStart

		if skip < take {
			out = append(out, member[skip:take]...)
		}

		idx++
	}

	return out[:length], nil
}

func (g *Gzip) pointIndex(offset int64) int {
	for i := len(g.table) - 1; i >= 0; i-- {
		if g.table[i].UncompressedOffset <= offset {
			return i
		}
	}
	return 0
}

func (g *Gzip) decodeMember(ctx context.Context, idx int, compressedSize int64) ([]byte, error) {
	start := g.table[idx].CompressedOffset
	end := compressedSize
	if idx+1 < len(g.table) {
		end = g.table[idx+1].CompressedOffset
	}

	// The cache key folds in the compressed member size alongside the
	// identifier and access-point index.
	cacheID := fmt.Sprintf("%s|%d", g.identifier, end-start)
	if g.cache != nil {
		if data, ok := g.cache.get(cacheID, idx); ok {
			return data, nil
		}
	}

	compressed, err := g.underlying.Read(ctx, start, end-start)
	if err != nil {
		return nil, errors.Wrapf(err, "reading compressed gzip member %d", idx)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrapf(err, "opening gzip member %d", idx)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing gzip member %d", idx)
	}

	if g.cache != nil {
		g.cache.put(cacheID, idx, data)
	}

	return data, nil
}

func (g *Gzip) Close() error {
	return g.underlying.Close()
}

// memberCache is a content-addressed, single-writer/many-reader cache of
// decoded gzip members, keyed by (identifier, access-point id, size).
// Locking is per key, keyed by access-point id.
type memberCache struct {
	dir   string
	locks sync.Map // map[string]*sync.Mutex
}

func newMemberCache(dir string) *memberCache {
	return &memberCache{dir: dir}
}

func (c *memberCache) keyPath(identifier string, idx int) string {
	sum := sha256.Sum256([]byte(identifier))
	name := fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:8]), idx)
	return filepath.Join(c.dir, name)
}

func (c *memberCache) lockFor(path string) *sync.Mutex {
	l, _ := c.locks.LoadOrStore(path, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (c *memberCache) get(identifier string, idx int) ([]byte, bool) {
	path := c.keyPath(identifier, idx)
	mu := c.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *memberCache) put(identifier string, idx int, data []byte) {
	path := c.keyPath(identifier, idx)
	mu := c.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}
