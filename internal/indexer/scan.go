package indexer

import (
	"bufio"
	"io"
	"regexp"

	"github.com/pkg/errors"

	"github.com/g-insana/ffdb/internal/index"
)

// entry is one scanned (not yet offset-shifted or re-encoded) entry: its
// identifiers and its byte range in the source being scanned.
type entry struct {
	ids         []string
	start, end  int64 // [start, end) in the scanned source's own coordinates
}

// state is the indexer's per-worker state machine position.
type state int

const (
	stateBetween state = iota
	stateInEntry
)

// scanEntries runs the Between/InEntry state machine over r, starting at
// baseOffset (so offsets in the returned entries are
// absolute positions in the whole flatfile even when r is one block of
// it). r must yield the flatfile's bytes starting at baseOffset.
func scanEntries(r io.Reader, baseOffset int64, terminator *regexp.Regexp, patterns []Pattern, appendAll bool) ([]entry, error) {
	var entries []entry

	st := stateBetween
	var cur entry
	offset := baseOffset

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		lineStart := offset
		offset += int64(len(line)) + 1 // +1 for the newline consumed by Scanner

		isTerminator := terminator.MatchString(line)
		ids := extractIdentifiers(patterns, line, appendAll)

		switch st {
		case stateBetween:
			if isTerminator {
				continue
			}
			if len(ids) > 0 {
				cur = entry{ids: ids, start: lineStart}
				st = stateInEntry
			}
			// other: ignore

		case stateInEntry:
			if isTerminator {
				cur.end = lineStart
				entries = append(entries, cur)
				cur = entry{}
				st = stateBetween
				continue
			}
			if len(ids) > 0 {
				if appendAll {
					cur.ids = append(cur.ids, ids...)
				} else {
					cur.ids = mergeFirstPerPattern(cur.ids, ids)
				}
			}
			// other: bytes accumulate implicitly since end is
			// recomputed from offsets, not buffered here.
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning flatfile")
	}

	if st == stateInEntry {
		// Input ended without a trailing terminator: close out the
		// final entry at EOF.
		cur.end = offset
		entries = append(entries, cur)
	}

	return entries, nil
}

// mergeFirstPerPattern merges an InEntry follow-up line's identifiers
// into cur when -a is not set. extractIdentifiers already returns only
// the first match per independent pattern (and the full joined id for -j
// patterns) within one line. Across lines, an id is added unless the
// same id is already present; ids are not tracked by pattern, so a
// different match of an already-used pattern on a later line is kept.
func mergeFirstPerPattern(existing, next []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	out := existing
	for _, id := range next {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

// splitBlocks divides [0, size) into up to n byte ranges, each boundary
// (except the first and last) snapped forward to the end of the nearest
// terminator line, so no entry crosses a block boundary.
func splitBlocks(r io.ReaderAt, size int64, n int, terminator *regexp.Regexp) ([][2]int64, error) {
	if n <= 1 || size == 0 {
		return [][2]int64{{0, size}}, nil
	}

	raw := make([]int64, 0, n+1)
	raw = append(raw, 0)
	chunk := size / int64(n)
	for i := 1; i < n; i++ {
		raw = append(raw, int64(i)*chunk)
	}
	raw = append(raw, size)

	bounds := make([]int64, len(raw))
	bounds[0] = 0
	bounds[len(raw)-1] = size

	for i := 1; i < len(raw)-1; i++ {
		snapped, err := nextTerminatorEnd(r, raw[i], size, terminator)
		if err != nil {
			return nil, err
		}
		bounds[i] = snapped
	}

	var blocks [][2]int64
	for i := 0; i < len(bounds)-1; i++ {
		if bounds[i] >= bounds[i+1] {
			continue
		}
		blocks = append(blocks, [2]int64{bounds[i], bounds[i+1]})
	}
	if len(blocks) == 0 {
		blocks = [][2]int64{{0, size}}
	}
	return blocks, nil
}

// nextTerminatorEnd scans forward from offset for the next line matching
// terminator and returns the offset just past it (or size, if none found
// before EOF).
func nextTerminatorEnd(r io.ReaderAt, offset, size int64, terminator *regexp.Regexp) (int64, error) {
	sr := io.NewSectionReader(r, offset, size-offset)
	scanner := bufio.NewScanner(sr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	pos := offset
	for scanner.Scan() {
		line := scanner.Text()
		pos += int64(len(line)) + 1
		if terminator.MatchString(line) {
			return pos, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "scanning for block boundary")
	}
	return size, nil
}

// toRecords converts scanned entries into index records for the
// no-re-encode path, applying the offset shift and attaching any
// computed checksums. The re-encode path builds its own records.
func toRecords(entries []entry, offsetShift int64, checksums map[int]uint32) []index.Record {
	var recs []index.Record
	for i, e := range entries {
		for _, id := range e.ids {
			rec := index.Record{
				Identifier: id,
				Offset:     e.start + offsetShift,
				Length:     e.end - e.start,
			}
			if sum, ok := checksums[i]; ok {
				rec.Checksum = sum
				rec.HasChecksum = true
			}
			recs = append(recs, rec)
		}
	}
	return recs
}
