package index

import (
	"bufio"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnsortedIndex is returned by Load when identifier ordering is violated.
var ErrUnsortedIndex = errors.New("index is not sorted by identifier")

// Store is the in-memory sorted multimap identifier -> records, loaded
// from an on-disk index file. It owns the map; callers only read from
// it.
type Store struct {
	Header Header

	// ids preserves the sorted identifier order of the source file;
	// records[id] preserves flatfile order within that identifier.
	ids     []string
	records map[string][]Record
}

// Load streams path line by line, parsing the optional header and every
// record line, asserting identifiers are non-decreasing.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening index file")
	}
	defer f.Close()

	return loadFromReader(f)
}

func loadFromReader(r io.Reader) (*Store, error) {
	log := logrus.WithField("pkg", "index")

	s := &Store{
		records: make(map[string][]Record),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	last := ""

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if first && len(line) > 0 && line[0] == '#' {
			h, err := parseHeader(line)
			if err != nil {
				return nil, errors.Wrap(err, "parsing index header")
			}
			s.Header = h
			first = false
			continue
		}
		first = false

		rec, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrap(err, "parsing index record")
		}

		if rec.Identifier < last {
			log.Debugf("unsorted: %q came after %q", rec.Identifier, last)
			return nil, errors.Wrapf(ErrUnsortedIndex, "%q after %q", rec.Identifier, last)
		}

		if _, ok := s.records[rec.Identifier]; !ok {
			s.ids = append(s.ids, rec.Identifier)
		}
		last = rec.Identifier

		s.records[rec.Identifier] = append(s.records[rec.Identifier], rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading index file")
	}

	return s, nil
}

// Lookup resolves id under policy. first/last collapse duplicates; all
// returns every record in flatfile order. A miss returns nil: an unknown
// identifier is not an error of Lookup.
func (s *Store) Lookup(id string, policy Policy) []Record {
	recs, ok := s.records[id]
	if !ok || len(recs) == 0 {
		return nil
	}

	switch policy {
	case PolicyFirst:
		return recs[:1]
	case PolicyLast:
		return recs[len(recs)-1:]
	default:
		out := make([]Record, len(recs))
		copy(out, recs)
		return out
	}
}

// LookupMany is the vectorised form of Lookup, returning one slice of
// records per input identifier, in input order.
func (s *Store) LookupMany(ids []string, policy Policy) [][]Record {
	out := make([][]Record, len(ids))
	for i, id := range ids {
		out[i] = s.Lookup(id, policy)
	}
	return out
}

// Identifiers returns the sorted, deduplicated identifier list.
func (s *Store) Identifiers() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the total number of records across all identifiers.
func (s *Store) Len() int {
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

// All returns every record across every identifier, in sorted-identifier,
// then flatfile, order.
func (s *Store) All() []Record {
	out := make([]Record, 0, s.Len())
	for _, id := range s.ids {
		out = append(out, s.records[id]...)
	}
	return out
}

// Append writes a sorted merge of s's records plus extra into a new
// index file at path; it never mutates the source store or file.
func Append(path string, s *Store, extra []Record) error {
	var merged []Record
	if s != nil {
		merged = make([]Record, 0, s.Len()+len(extra))
		merged = append(merged, s.All()...)
	} else {
		merged = make([]Record, 0, len(extra))
	}
	merged = append(merged, extra...)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Identifier != merged[j].Identifier {
			return merged[i].Identifier < merged[j].Identifier
		}
		return merged[i].Offset < merged[j].Offset
	})

	var hdr Header
	if s != nil {
		hdr = s.Header
	}

	return writeRecords(path, hdr, merged)
}

// Filter copies the records of the in-memory Store s for which keep
// returns true into a freshly-built Store, preserving order.
func Filter(s *Store, keep func(Record) bool) *Store {
	out := &Store{
		Header:  s.Header,
		records: make(map[string][]Record),
	}

	for _, id := range s.ids {
		for _, rec := range s.records[id] {
			if !keep(rec) {
				continue
			}
			if _, ok := out.records[id]; !ok {
				out.ids = append(out.ids, id)
			}
			out.records[id] = append(out.records[id], rec)
		}
	}

	return out
}

// Save writes s to path as a standalone index file (used after Filter).
func (s *Store) Save(path string) error {
	return writeRecords(path, s.Header, s.All())
}

// Write creates a fresh index file at path with the given header and
// records, already sorted by the caller (the indexer sorts before
// calling this; Append is for merging into an existing store instead).
func Write(path string, hdr Header, records []Record) error {
	return writeRecords(path, hdr, records)
}

func writeRecords(path string, hdr Header, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating index file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	if hdr.Present {
		if _, err := w.WriteString(formatHeader(hdr) + "\n"); err != nil {
			return errors.Wrap(err, "writing index header")
		}
	}

	for _, rec := range records {
		if _, err := w.WriteString(formatLine(rec) + "\n"); err != nil {
			return errors.Wrap(err, "writing index record")
		}
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flushing index file")
	}

	return nil
}
