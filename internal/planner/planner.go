// Package planner coalesces and partitions entry ranges into the read
// requests the byte source actually issues.
package planner

import (
	"sort"

	"github.com/g-insana/ffdb/internal/index"
)

// Default coalescing thresholds.
const (
	DefaultCoalesceGap = 4 * 1024        // 4 KiB
	DefaultCoalesceMax = 4 * 1024 * 1024 // 4 MiB
)

// Mode selects the planning strategy.
type Mode int

const (
	// ModePerEntry issues one read per entry.
	ModePerEntry Mode = iota
	// ModeMerged coalesces adjacent/near-adjacent entries into fewer reads.
	ModeMerged
)

// Item is one requested entry: its record and its position in the
// caller's original request order (needed for the extractor's reorder
// buffer and for planner tie-breaks).
type Item struct {
	Record       index.Record
	RequestIndex int
}

// ReadRequest is one read to issue against the byte source, plus the
// entries it must be sliced into afterward.
type ReadRequest struct {
	Offset  int64
	Length  int64
	Entries []Item // sorted by offset within this request
}

// Options configures Plan.
type Options struct {
	Mode        Mode
	CoalesceGap int64
	CoalesceMax int64
}

func (o Options) withDefaults() Options {
	if o.CoalesceGap <= 0 {
		o.CoalesceGap = DefaultCoalesceGap
	}
	if o.CoalesceMax <= 0 {
		o.CoalesceMax = DefaultCoalesceMax
	}
	return o
}

// Plan builds the read requests for items. Entries with identical
// offsets are ordered by length then by original request position
// before coalescing or slicing.
func Plan(items []Item, opts Options) []ReadRequest {
	opts = opts.withDefaults()

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Record, sorted[j].Record
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if a.Length != b.Length {
			return a.Length < b.Length
		}
		return sorted[i].RequestIndex < sorted[j].RequestIndex
	})

	if opts.Mode == ModePerEntry {
		return planPerEntry(sorted)
	}
	return planMerged(sorted, opts.CoalesceGap, opts.CoalesceMax)
}

func planPerEntry(sorted []Item) []ReadRequest {
	out := make([]ReadRequest, 0, len(sorted))
	for _, item := range sorted {
		out = append(out, ReadRequest{
			Offset:  item.Record.Offset,
			Length:  item.Record.Length,
			Entries: []Item{item},
		})
	}
	return out
}

func planMerged(sorted []Item, coalesceGap, coalesceMax int64) []ReadRequest {
	var out []ReadRequest

	for _, item := range sorted {
		rec := item.Record

		if len(out) > 0 {
			last := &out[len(out)-1]
			lastEnd := last.Offset + last.Length
			gap := rec.Offset - lastEnd
			newEnd := rec.End()
			if newEnd < lastEnd {
				newEnd = lastEnd
			}
			coalescedLen := newEnd - last.Offset

			if gap >= 0 && gap <= coalesceGap && coalescedLen <= coalesceMax {
				last.Length = coalescedLen
				last.Entries = append(last.Entries, item)
				continue
			}
		}

		out = append(out, ReadRequest{
			Offset:  rec.Offset,
			Length:  rec.Length,
			Entries: []Item{item},
		})
	}

	return out
}

// Partition splits ids into block-parallel chunks of size blockSize,
// defaulting to ceil(len(ids)/workers) when blockSize is 0 and workers
// > 0. blockSize == 0 with workers <= 0 disables blocking entirely (one
// chunk).
func Partition(items []Item, workers, blockSize int) [][]Item {
	if len(items) == 0 {
		return nil
	}

	if blockSize <= 0 {
		if workers <= 0 {
			return [][]Item{items}
		}
		blockSize = (len(items) + workers - 1) / workers
		if blockSize < 1 {
			blockSize = 1
		}
	}

	var chunks [][]Item
	for start := 0; start < len(items); start += blockSize {
		end := start + blockSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
