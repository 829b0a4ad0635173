// Package remover implements deleting a set of identifiers from a
// (flatfile, index) pair: resolve the delete list through the index
// under the duplicates policy, stream-copy the flatfile skipping
// deleted ranges, and re-emit the index with offsets shifted by the
// running delta of bytes removed so far.
package remover

import (
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/g-insana/ffdb/internal/index"
)

// Options configures one Remove call.
type Options struct {
	Policy  index.Policy
	Threads int
}

// byteRange is a [Start, End) span marked for deletion.
type byteRange struct {
	Start, End int64
}

// Remove resolves ids through store under opts.Policy, copies srcPath to
// dstPath skipping their byte ranges, and writes the corresponding
// shifted index to dstIndexPath. It returns the number of bytes removed.
func Remove(store *index.Store, srcPath, dstPath, dstIndexPath string, ids []string, opts Options) (int64, error) {
	log := logrus.WithField("pkg", "remover")

	ranges := resolveRanges(store, ids, opts.Policy)
	if len(ranges) == 0 {
		log.Debug("no matching identifiers to remove")
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	ranges = mergeOverlapping(ranges)

	removed, err := copySkippingRanges(srcPath, dstPath, ranges)
	if err != nil {
		return 0, err
	}

	if err := reindex(store, ranges, dstIndexPath, opts.Threads); err != nil {
		return 0, err
	}

	return removed, nil
}

// resolveRanges resolves each identifier through the index under
// policy, collecting every matched record's byte range.
func resolveRanges(store *index.Store, ids []string, policy index.Policy) []byteRange {
	var ranges []byteRange
	for _, id := range ids {
		for _, rec := range store.Lookup(id, policy) {
			ranges = append(ranges, byteRange{Start: rec.Offset, End: rec.End()})
		}
	}
	return ranges
}

// mergeOverlapping coalesces adjacent/overlapping ranges so delta
// accounting in copySkippingRanges and deltaAt never double-counts a byte.
func mergeOverlapping(ranges []byteRange) []byteRange {
	if len(ranges) == 0 {
		return nil
	}
	out := []byteRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// copySkippingRanges streams src to dst, copying every byte not inside a
// deleted range.
func copySkippingRanges(srcPath, dstPath string, ranges []byteRange) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, errors.Wrap(err, "opening source flatfile")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "statting source flatfile")
	}
	size := info.Size()

	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, errors.Wrap(err, "creating destination flatfile")
	}
	defer dst.Close()

	var removed int64
	pos := int64(0)

	for _, r := range ranges {
		if r.Start > pos {
			if _, err := io.Copy(dst, io.NewSectionReader(src, pos, r.Start-pos)); err != nil {
				return 0, errors.Wrap(err, "copying surviving bytes")
			}
		}
		if r.End > pos {
			removed += r.End - max64(r.Start, pos)
			pos = r.End
		}
	}

	if pos < size {
		if _, err := io.Copy(dst, io.NewSectionReader(src, pos, size-pos)); err != nil {
			return 0, errors.Wrap(err, "copying trailing bytes")
		}
	}

	return removed, nil
}

// deltaAt returns the total bytes removed strictly before offset, i.e.
// the shift to apply to a surviving record that starts at offset.
func deltaAt(ranges []byteRange, offset int64) int64 {
	var delta int64
	for _, r := range ranges {
		if r.Start >= offset {
			break
		}
		delta += r.End - r.Start
	}
	return delta
}

// reindex walks the loaded index, dropping deleted records and shifting
// survivors' offsets by deltaAt(offset).
// Block-parallel reindexing partitions the surviving records into
// threads chunks; each record's shift is computed by deltaAt over the
// full range list, with no per-chunk delta table precomputed.
func reindex(store *index.Store, ranges []byteRange, dstIndexPath string, threads int) error {
	all := store.All()
	var surviving []index.Record
	for _, rec := range all {
		if rangeDeleted(rec, ranges) {
			continue
		}
		surviving = append(surviving, rec)
	}

	if threads <= 0 {
		threads = 1
	}
	chunks := partitionRecords(surviving, threads)

	shifted := make([][]index.Record, len(chunks))
	g := new(errgroup.Group)
	g.SetLimit(threads)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			out := make([]index.Record, len(chunk))
			for j, rec := range chunk {
				rec.Offset -= deltaAt(ranges, rec.Offset)
				out[j] = rec
			}
			shifted[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "reindexing surviving records")
	}

	var merged []index.Record
	for _, s := range shifted {
		merged = append(merged, s...)
	}

	return index.Write(dstIndexPath, store.Header, merged)
}

// rangeDeleted reports whether rec's byte range falls inside any deleted
// range (a record is either wholly deleted or wholly kept, since the
// delete-list operates on whole records, never partial ones).
func rangeDeleted(rec index.Record, ranges []byteRange) bool {
	for _, r := range ranges {
		if rec.Offset >= r.Start && rec.End() <= r.End {
			return true
		}
	}
	return false
}

func partitionRecords(records []index.Record, n int) [][]index.Record {
	if len(records) == 0 {
		return nil
	}
	blockSize := (len(records) + n - 1) / n
	if blockSize < 1 {
		blockSize = 1
	}
	var chunks [][]index.Record
	for start := 0; start < len(records); start += blockSize {
		end := start + blockSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
