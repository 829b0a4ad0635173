package sideindex

import (
	"bufio"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

// countingReader wraps a buffered reader and tracks the offset of bytes
// actually handed to the caller, the same bookkeeping bgzf's countReader
// performs for BGZF block boundaries. Exposing ReadByte (in addition to
// Read) means compress/gzip treats it as a flate.Reader and will not wrap
// it in a second, uncounted bufio.Reader of its own.
type countingReader struct {
	br  *bufio.Reader
	off int64
}

func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{br: bufio.NewReader(r)}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.off += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.off++
	}
	return b, err
}

// BuildFromPlainGzip indexes an existing gzip stream by decompressing it
// once and recording one access point at the start of every member.
//
// This only gives useful random access when the stream has more than
// one member: a genuinely unflushed single-member gzip file yields a
// one-entry table at offset 0, and bytesource.Gzip degrades to
// decompressing from the start for every read against it.
// internal/merger avoids that case by chunking the flatfile into
// independent members before calling this, rather than compressing it
// as one unbroken stream.
func BuildFromPlainGzip(r io.Reader) (Table, error) {
	cr := newCountingReader(r)

	var table Table
	var uncompressedOffset int64

	for {
		memberStart := cr.off

		gz, err := gzip.NewReader(cr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip member")
		}
		gz.Multistream(false)

		table = append(table, AccessPoint{
			CompressedOffset:   memberStart,
			UncompressedOffset: uncompressedOffset,
		})

		n, err := io.Copy(io.Discard, gz)
		if err != nil {
			return nil, errors.Wrap(err, "decompressing gzip member")
		}
		uncompressedOffset += n

		if err := gz.Close(); err != nil {
			return nil, errors.Wrap(err, "closing gzip member")
		}
	}

	if len(table) == 0 {
		return nil, errors.New("empty gzip stream")
	}

	return table, nil
}
