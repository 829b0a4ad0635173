// Package indexer builds a sorted index.Store from a flatfile: a
// Between/InEntry state machine driven by a terminator pattern and a
// list of identifier patterns, run in parallel over terminator-aligned
// byte blocks, with optional re-encoding of each entry through
// internal/codec into a new flatfile.
package indexer

import (
	"context"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/g-insana/ffdb/internal/codec"
	"github.com/g-insana/ffdb/internal/index"
)

// Options configures one Build call.
type Options struct {
	Terminator *regexp.Regexp
	Patterns   []Pattern
	AppendAll  bool // -a: independent patterns contribute every match per line

	Threads   int
	Unsorted  bool // --unsorted: skip the final sort, preserve scan order
	Checksum  bool // -x: record CRC32 of plaintext regardless of codec stack

	Codec       *codec.Context // nil: entries are indexed in place, not re-encoded
	OffsetShift int64          // --offset: added to every recorded offset

	OutputPath string // re-encoded flatfile destination; required when Codec != nil
}

// Result carries the records built plus, when re-encoding was requested,
// the total length written to OutputPath (so a caller chaining merges
// knows the next OffsetShift).
type Result struct {
	Records    []index.Record
	WrittenLen int64
}

// Build scans the flatfile at path and returns its index records.
//
// When opts.Codec is nil, entries are indexed as-is: offsets and lengths
// describe ranges in path itself (shifted by opts.OffsetShift). When
// opts.Codec is set, each entry is read, run through Codec.Encode, and
// appended to opts.OutputPath; the returned records describe offsets and
// lengths in that new file instead.
func Build(ctx context.Context, path string, opts Options) (Result, error) {
	log := logrus.WithField("pkg", "indexer")

	f, err := os.Open(path)
	if err != nil {
		return Result{}, errors.Wrapf(err, "opening flatfile %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, errors.Wrap(err, "statting flatfile")
	}
	size := info.Size()

	workers := opts.Threads
	if workers <= 0 {
		workers = 1
	}

	blocks, err := splitBlocks(f, size, workers, opts.Terminator)
	if err != nil {
		return Result{}, errors.Wrap(err, "splitting flatfile into blocks")
	}
	log.WithField("blocks", len(blocks)).Debug("scanning flatfile")

	blockEntries := make([][]entry, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, b := range blocks {
		i, b := i, b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sr := io.NewSectionReader(f, b[0], b[1]-b[0])
			entries, err := scanEntries(sr, b[0], opts.Terminator, opts.Patterns, opts.AppendAll)
			if err != nil {
				return errors.Wrapf(err, "scanning block [%d,%d)", b[0], b[1])
			}
			for k := range entries {
				// A final line without a trailing newline is counted as
				// if it had one; keep the entry end at EOF.
				if entries[k].end > size {
					entries[k].end = size
				}
			}
			blockEntries[i] = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var allEntries []entry
	for _, es := range blockEntries {
		allEntries = append(allEntries, es...)
	}

	if opts.Codec == nil {
		checksums := checksumsFor(f, allEntries, opts.Checksum)
		records := toRecords(allEntries, opts.OffsetShift, checksums)
		if !opts.Unsorted {
			sortRecords(records)
		}
		return Result{Records: records, WrittenLen: size}, nil
	}

	return reencode(f, allEntries, opts)
}

// checksumsFor computes CRC32 of each entry's plaintext bytes when -x is
// set. Only meaningful in the no-reencode path; the reencode path
// computes checksums inline since it already reads every entry's bytes.
func checksumsFor(f *os.File, entries []entry, want bool) map[int]uint32 {
	if !want {
		return nil
	}
	sums := make(map[int]uint32, len(entries))
	for i, e := range entries {
		buf := make([]byte, e.end-e.start)
		if _, err := f.ReadAt(buf, e.start); err != nil {
			continue
		}
		sums[i] = codec.CRC32(buf)
	}
	return sums
}

// reencode reads every scanned entry's plaintext, runs it through
// opts.Codec.Encode, and appends the result to opts.OutputPath, building
// records that describe offsets in that new file.
func reencode(src *os.File, entries []entry, opts Options) (Result, error) {
	out, err := os.OpenFile(opts.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Result{}, errors.Wrapf(err, "opening output flatfile %s", opts.OutputPath)
	}
	defer out.Close()

	info, err := out.Stat()
	if err != nil {
		return Result{}, errors.Wrap(err, "statting output flatfile")
	}
	writeOffset := info.Size()
	startOffset := writeOffset

	var records []index.Record

	for _, e := range entries {
		plaintext := make([]byte, e.end-e.start)
		if _, err := src.ReadAt(plaintext, e.start); err != nil {
			return Result{}, errors.Wrapf(err, "reading entry at offset %d", e.start)
		}

		var checksum uint32
		hasChecksum := opts.Checksum
		if hasChecksum {
			checksum = codec.CRC32(plaintext)
		}

		encoded, err := opts.Codec.Encode(plaintext)
		if err != nil {
			return Result{}, errors.Wrapf(err, "encoding entry at offset %d", e.start)
		}

		if _, err := out.Write(encoded); err != nil {
			return Result{}, errors.Wrap(err, "writing re-encoded entry")
		}

		for _, id := range e.ids {
			records = append(records, index.Record{
				Identifier:  id,
				Offset:      writeOffset + opts.OffsetShift,
				Length:      int64(len(encoded)),
				Checksum:    checksum,
				HasChecksum: hasChecksum,
			})
		}

		writeOffset += int64(len(encoded))
	}

	if !opts.Unsorted {
		sortRecords(records)
	}

	return Result{Records: records, WrittenLen: writeOffset - startOffset}, nil
}

// sortRecords orders records by identifier, matching index.Store's
// required on-disk ordering.
func sortRecords(records []index.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Identifier < records[j].Identifier
	})
}
