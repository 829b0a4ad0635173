package planner

import (
	"testing"

	"github.com/g-insana/ffdb/internal/index"
)

func TestPlanPerEntryOneReadPerRecord(t *testing.T) {
	items := []Item{
		{Record: index.Record{Offset: 1000, Length: 40}, RequestIndex: 0},
		{Record: index.Record{Offset: 1050, Length: 40}, RequestIndex: 1},
		{Record: index.Record{Offset: 1100, Length: 40}, RequestIndex: 2},
	}

	reqs := Plan(items, Options{Mode: ModePerEntry})
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
}

func TestPlanMergedCoalescesAdjacentRanges(t *testing.T) {
	// offsets (1000, 1050, 1100), lengths 40 each -> one coalesced read
	// [1000, 1140).
	items := []Item{
		{Record: index.Record{Offset: 1000, Length: 40}, RequestIndex: 0},
		{Record: index.Record{Offset: 1050, Length: 40}, RequestIndex: 1},
		{Record: index.Record{Offset: 1100, Length: 40}, RequestIndex: 2},
	}

	reqs := Plan(items, Options{Mode: ModeMerged})
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].Offset != 1000 || reqs[0].Length != 140 {
		t.Errorf("coalesced request = {offset:%d length:%d}, want {1000 140}", reqs[0].Offset, reqs[0].Length)
	}
	if len(reqs[0].Entries) != 3 {
		t.Errorf("got %d entries in coalesced request, want 3", len(reqs[0].Entries))
	}
}

func TestPlanMergedRespectsGapThreshold(t *testing.T) {
	items := []Item{
		{Record: index.Record{Offset: 0, Length: 10}, RequestIndex: 0},
		{Record: index.Record{Offset: 10 + DefaultCoalesceGap + 1, Length: 10}, RequestIndex: 1},
	}

	reqs := Plan(items, Options{Mode: ModeMerged})
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2 (gap exceeds threshold)", len(reqs))
	}
}

func TestPlanMergedRespectsMaxSize(t *testing.T) {
	items := []Item{
		{Record: index.Record{Offset: 0, Length: 10}, RequestIndex: 0},
		{Record: index.Record{Offset: 20, Length: 10}, RequestIndex: 1},
	}

	reqs := Plan(items, Options{Mode: ModeMerged, CoalesceGap: 100, CoalesceMax: 20})
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2 (coalesced size would exceed max)", len(reqs))
	}
}

func TestPlanTieBreaksByLengthThenRequestOrder(t *testing.T) {
	items := []Item{
		{Record: index.Record{Offset: 100, Length: 20}, RequestIndex: 2},
		{Record: index.Record{Offset: 100, Length: 10}, RequestIndex: 0},
		{Record: index.Record{Offset: 100, Length: 10}, RequestIndex: 1},
	}

	reqs := Plan(items, Options{Mode: ModePerEntry})
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
	if reqs[0].Entries[0].RequestIndex != 0 || reqs[1].Entries[0].RequestIndex != 1 || reqs[2].Entries[0].RequestIndex != 2 {
		t.Errorf("tie-break order wrong: %+v", reqs)
	}
}

func TestPartitionDefaultsBlockSizeToCeilDiv(t *testing.T) {
	items := make([]Item, 10)
	for i := range items {
		items[i] = Item{Record: index.Record{Offset: int64(i), Length: 1}, RequestIndex: i}
	}

	chunks := Partition(items, 3, 0)
	if len(chunks) != 3 { // ceil(10/3) = 4 -> chunks of 4,4,2
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 4 {
		t.Errorf("first chunk has %d items, want 4", len(chunks[0]))
	}
}

func TestPartitionZeroBlockSizeNoWorkersIsOneChunk(t *testing.T) {
	items := []Item{{Record: index.Record{Offset: 0, Length: 1}}}
	chunks := Partition(items, 0, 0)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}
