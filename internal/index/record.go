// Package index implements the on-disk index format and the in-memory
// sorted multimap the extractor, merger, and remover query against.
package index

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Policy selects how a duplicate-identifier lookup resolves.
type Policy int

const (
	PolicyFirst Policy = iota
	PolicyLast
	PolicyAll
)

func (p Policy) String() string {
	switch p {
	case PolicyFirst:
		return "first"
	case PolicyLast:
		return "last"
	case PolicyAll:
		return "all"
	default:
		return "unknown"
	}
}

// Record is one (offset, length[, checksum]) tuple associated with an
// identifier.
type Record struct {
	Identifier  string
	Offset      int64
	Length      int64
	Checksum    uint32
	HasChecksum bool
}

// End returns the exclusive end offset of the record's byte range.
func (r Record) End() int64 {
	return r.Offset + r.Length
}

// formatLine renders r as an index line: identifier<TAB>offset<TAB>length[<TAB>checksum].
func formatLine(r Record) string {
	if r.HasChecksum {
		return fmt.Sprintf("%s\t%d\t%d\t%08x", r.Identifier, r.Offset, r.Length, r.Checksum)
	}
	return fmt.Sprintf("%s\t%d\t%d", r.Identifier, r.Offset, r.Length)
}

// parseLine parses one index line into a Record.
func parseLine(line string) (Record, error) {
	fields := splitTab(line)
	if len(fields) != 3 && len(fields) != 4 {
		return Record{}, errors.Errorf("malformed index line: %q", line)
	}

	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Record{}, errors.Wrapf(err, "parsing offset in line %q", line)
	}

	length, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, errors.Wrapf(err, "parsing length in line %q", line)
	}

	rec := Record{
		Identifier: fields[0],
		Offset:     offset,
		Length:     length,
	}

	if len(fields) == 4 {
		sum, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil {
			return Record{}, errors.Wrapf(err, "parsing checksum in line %q", line)
		}
		rec.Checksum = uint32(sum)
		rec.HasChecksum = true
	}

	return rec, nil
}

func splitTab(s string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\t' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	fields = append(fields, s[start:])
	return fields
}
