// Package sideindex implements the gzip/bgzip side index ("*.gzi") that
// makes whole-file gzip streams randomly readable: a table of access
// points, each recording a compressed offset, the corresponding
// decompressed offset, and room for the raw-deflate dictionary window
// gztool's format carries for resuming mid-block.
//
// FFDB's own producer (internal/merger's --gzip pass) and consumer
// (internal/bytesource.Gzip) only ever place access points at gzip
// member boundaries, never mid-block: every member is, by construction,
// an independently decompressible gzip stream, so WindowBits/Window are
// always zero/empty at those points — resuming is a fresh
// gzip.NewReader at CompressedOffset, not a dictionary restore. The
// fields mirror gztool's access points, which do populate them for true
// bit-level mid-block access points; FFDB does not implement that finer
// granularity. A genuinely
// unflushed single-member gzip stream yields a one-entry table and
// degrades every read to decompressing from the start; internal/merger
// avoids producing one by chunking the flatfile into independent
// members before gzip-compressing it.
//
// The on-disk layout is FFDB's own, all little-endian: a 4-byte magic
// "ffgz", a version byte and a point count, followed by fixed fields per
// point plus a variable-length window. It carries the same per-point
// information as gztool's .gzi files but is not byte-compatible with
// them: gztool cannot read these files and Load cannot read gztool's.
// Field layout and the general
// compressed/uncompressed offset pairing follow the same shape as
// timpalpant/gzran's Index/Point types; the explicit encoding/binary
// reads are written the way ianlewis/go-dictzip parses its own header.
package sideindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// maxWindowSize is the largest raw-deflate back-reference window: 32KiB.
const maxWindowSize = 32 * 1024

// AccessPoint is one entry in the side index. WindowBits/Window are
// always zero/empty for points FFDB itself produces or consumes (see
// the package doc); Load and Save still read and write them.
type AccessPoint struct {
	CompressedOffset   int64
	UncompressedOffset int64
	WindowBits         uint8  // bits of unconsumed input held before this point
	Window             []byte // up to 32KiB of decompressor dictionary state
}

// Table is the ordered set of access points for one gzip stream, sorted
// ascending by UncompressedOffset.
type Table []AccessPoint

var magic = [4]byte{'f', 'f', 'g', 'z'}

const formatVersion = 1

// Load reads a side index table from r.
func Load(r io.Reader) (Table, error) {
	br := bufio.NewReader(r)

	var gotMagic [4]byte
	if _, err := io.ReadFull(br, gotMagic[:]); err != nil {
		return nil, errors.Wrap(err, "reading .gzi magic")
	}
	if gotMagic != magic {
		return nil, errors.New(".gzi: bad magic")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "reading .gzi version")
	}
	if version != formatVersion {
		return nil, errors.Errorf(".gzi: unsupported version %d", version)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, errors.Wrap(err, "reading .gzi point count")
	}

	table := make(Table, count)
	for i := range table {
		p := &table[i]

		if err := binary.Read(br, binary.LittleEndian, &p.CompressedOffset); err != nil {
			return nil, errors.Wrapf(err, "reading point %d compressed offset", i)
		}
		if err := binary.Read(br, binary.LittleEndian, &p.UncompressedOffset); err != nil {
			return nil, errors.Wrapf(err, "reading point %d uncompressed offset", i)
		}
		if err := binary.Read(br, binary.LittleEndian, &p.WindowBits); err != nil {
			return nil, errors.Wrapf(err, "reading point %d window bits", i)
		}

		var windowLen uint16
		if err := binary.Read(br, binary.LittleEndian, &windowLen); err != nil {
			return nil, errors.Wrapf(err, "reading point %d window length", i)
		}
		if windowLen > maxWindowSize {
			return nil, errors.Errorf("point %d: window length %d exceeds max %d", i, windowLen, maxWindowSize)
		}

		p.Window = make([]byte, windowLen)
		if _, err := io.ReadFull(br, p.Window); err != nil {
			return nil, errors.Wrapf(err, "reading point %d window", i)
		}
	}

	return table, nil
}

// Save writes t to w in the .gzi format Load expects.
func (t Table) Save(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return errors.Wrap(err, "writing .gzi magic")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(formatVersion)); err != nil {
		return errors.Wrap(err, "writing .gzi version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t))); err != nil {
		return errors.Wrap(err, "writing .gzi point count")
	}

	for i, p := range t {
		if err := binary.Write(w, binary.LittleEndian, p.CompressedOffset); err != nil {
			return errors.Wrapf(err, "writing point %d compressed offset", i)
		}
		if err := binary.Write(w, binary.LittleEndian, p.UncompressedOffset); err != nil {
			return errors.Wrapf(err, "writing point %d uncompressed offset", i)
		}
		if err := binary.Write(w, binary.LittleEndian, p.WindowBits); err != nil {
			return errors.Wrapf(err, "writing point %d window bits", i)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(p.Window))); err != nil {
			return errors.Wrapf(err, "writing point %d window length", i)
		}
		if _, err := w.Write(p.Window); err != nil {
			return errors.Wrapf(err, "writing point %d window", i)
		}
	}

	return nil
}

// Nearest returns the access point with the greatest UncompressedOffset
// not exceeding offset (the nearest preceding access point). It returns
// (AccessPoint{}, false) if t is empty or offset precedes every point.
func (t Table) Nearest(offset int64) (AccessPoint, bool) {
	if len(t) == 0 {
		return AccessPoint{}, false
	}

	idx := sort.Search(len(t), func(i int) bool {
		return t[i].UncompressedOffset > offset
	})

	if idx == 0 {
		return AccessPoint{}, false
	}

	return t[idx-1], true
}

// CeilingCompressedOffset returns the compressed offset of the first
// access point at or after decompressedOffset, used to bound the
// compressed range read. If no such point exists, streamEnd is
// returned.
func (t Table) CeilingCompressedOffset(decompressedOffset, streamEnd int64) int64 {
	idx := sort.Search(len(t), func(i int) bool {
		return t[i].UncompressedOffset >= decompressedOffset
	})
	if idx == len(t) {
		return streamEnd
	}
	return t[idx].CompressedOffset
}

// Sorted reports whether t is sorted ascending by UncompressedOffset, the
// invariant Load always produces and BuildFromPlainGzip must maintain.
func (t Table) Sorted() bool {
	for i := 1; i < len(t); i++ {
		if t[i].UncompressedOffset < t[i-1].UncompressedOffset {
			return false
		}
	}
	return true
}
