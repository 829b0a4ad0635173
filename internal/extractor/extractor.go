// Package extractor implements the identifiers -> bytes pipeline: index
// lookup, range planning, byte-source reads, codec decode, reordered to
// the caller's request order.
package extractor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/g-insana/ffdb/internal/bytesource"
	"github.com/g-insana/ffdb/internal/codec"
	"github.com/g-insana/ffdb/internal/index"
	"github.com/g-insana/ffdb/internal/planner"
)

// ErrUnknownIdentifier is reported (non-fatal) for each requested
// identifier absent from the index.
var ErrUnknownIdentifier = errors.New("unknown identifier")

// Options configures one Extract call.
type Options struct {
	Policy         index.Policy
	PlanMode       planner.Mode
	Threads        int
	BlockSize      int
	VerifyChecksum bool
	Codec          *codec.Context
}

// Result is one decoded entry, or an error for one failed entry/identifier.
type Result struct {
	RequestIndex int
	Identifier   string
	Record       index.Record
	Data         []byte
	Err          error
}

// Extract resolves ids through store, reads the bytes via src, decodes
// them, and returns one Result per requested identifier occurrence, in
// the caller's request order.
//
// Missing identifiers, checksum mismatches, and byte-source failures are
// all reported as per-entry Results with Err set; they never abort
// extraction of the remaining entries.
func Extract(ctx context.Context, store *index.Store, src bytesource.Source, ids []string, opts Options) ([]Result, error) {
	log := logrus.WithField("pkg", "extractor")

	lookups := store.LookupMany(ids, opts.Policy)

	// slotIdentifier tracks, for every RequestIndex emitted into items, which
	// logical request (identifier occurrence) it belongs to, so results
	// can be placed back into the right output slot.
	var items []planner.Item
	slotIdentifier := make(map[int]string)
	var results []Result
	nextSlot := 0

	for i, id := range ids {
		recs := lookups[i]
		if len(recs) == 0 {
			results = append(results, Result{RequestIndex: nextSlot, Identifier: id, Err: errors.Wrapf(ErrUnknownIdentifier, "%q", id)})
			nextSlot++
			continue
		}
		for _, rec := range recs {
			slot := nextSlot
			nextSlot++
			slotIdentifier[slot] = id
			items = append(items, planner.Item{Record: rec, RequestIndex: slot})
		}
	}

	if len(items) == 0 {
		sortResultsBySlot(results)
		return results, nil
	}

	requests := planner.Plan(items, planner.Options{Mode: opts.PlanMode})
	blocks := partitionRequests(requests, opts.Threads, opts.BlockSize)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if opts.Threads > 0 {
		g.SetLimit(opts.Threads)
	}

	for _, block := range blocks {
		block := block
		g.Go(func() error {
			blockResults, err := runBlock(gctx, src, opts.Codec, opts.VerifyChecksum, block, slotIdentifier)
			mu.Lock()
			results = append(results, blockResults...)
			mu.Unlock()
			if err != nil {
				log.WithError(err).Debug("block worker reported a fatal error")
			}
			return nil // per-entry errors never cancel siblings
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "extraction block worker")
	}

	sortResultsBySlot(results)
	return results, nil
}

// partitionRequests splits requests into block-parallel chunks, mirroring
// planner.Partition's sizing rule but operating on whole ReadRequests
// rather than individual entries, since merged retrieval may have
// already grouped several entries behind one request.
func partitionRequests(requests []planner.ReadRequest, workers, blockSize int) [][]planner.ReadRequest {
	if len(requests) == 0 {
		return nil
	}

	if blockSize <= 0 {
		if workers <= 0 {
			return [][]planner.ReadRequest{requests}
		}
		blockSize = (len(requests) + workers - 1) / workers
		if blockSize < 1 {
			blockSize = 1
		}
	}

	var chunks [][]planner.ReadRequest
	for start := 0; start < len(requests); start += blockSize {
		end := start + blockSize
		if end > len(requests) {
			end = len(requests)
		}
		chunks = append(chunks, requests[start:end])
	}
	return chunks
}

func runBlock(ctx context.Context, src bytesource.Source, cctx *codec.Context, verify bool, requests []planner.ReadRequest, slotIdentifier map[int]string) ([]Result, error) {
	var results []Result

	for _, req := range requests {
		raw, err := src.Read(ctx, req.Offset, req.Length)
		if err != nil {
			for _, item := range req.Entries {
				results = append(results, Result{
					RequestIndex: item.RequestIndex,
					Identifier:   slotIdentifier[item.RequestIndex],
					Record:       item.Record,
					Err:          errors.Wrapf(err, "reading entry at offset %d", item.Record.Offset),
				})
			}
			continue
		}

		for _, item := range req.Entries {
			start := item.Record.Offset - req.Offset
			entryBytes := raw[start : start+item.Record.Length]

			decoded := entryBytes
			if cctx != nil {
				decoded, err = cctx.Decode(entryBytes)
				if err != nil {
					results = append(results, Result{
						RequestIndex: item.RequestIndex,
						Identifier:   slotIdentifier[item.RequestIndex],
						Record:       item.Record,
						Err:          err,
					})
					continue
				}
			}

			if verify && item.Record.HasChecksum {
				if err := codec.VerifyCRC32(decoded, item.Record.Checksum); err != nil {
					results = append(results, Result{
						RequestIndex: item.RequestIndex,
						Identifier:   slotIdentifier[item.RequestIndex],
						Record:       item.Record,
						Err:          err,
					})
					continue
				}
			}

			results = append(results, Result{
				RequestIndex: item.RequestIndex,
				Identifier:   slotIdentifier[item.RequestIndex],
				Record:       item.Record,
				Data:         decoded,
			})
		}
	}

	return results, nil
}

func sortResultsBySlot(results []Result) {
	// Insertion sort is fine here: per-block results are already
	// contiguous runs, and the number of blocks is small relative to
	// entries.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].RequestIndex < results[j-1].RequestIndex; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
