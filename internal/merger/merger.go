// Package merger implements appending one (flatfile, index) pair onto
// another: the new side's bytes are appended to the base flatfile (or a
// .new sibling), and its index records are re-emitted with offsets
// shifted past the base's length, then merged in sorted order with the
// base index.
package merger

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/g-insana/ffdb/internal/index"
	"github.com/g-insana/ffdb/internal/sideindex"
)

// gzipMemberSize is the amount of flatfile input compressed into each
// independent gzip member, the same flush-boundary idea bgzip and gztool
// use so the resulting stream keeps more than the one access point a
// single unbroken gzip stream would yield.
const gzipMemberSize = 1 << 20

// Options configures one Merge call.
type Options struct {
	Create bool // write to baseFlatfile+".new"/baseIndex+".new" instead of in place
	Small  bool // load the new index fully into memory
	Gzip   bool // whole-file gzip the merged flatfile and build a sibling .gzi
}

// Paths names the inputs and the resolved output locations for one merge.
type Paths struct {
	BaseFlatfile string
	BaseIndex    string
	NewFlatfile  string
	NewIndex     string

	OutFlatfile string // resolved: BaseFlatfile, or BaseFlatfile+".new" under --create
	OutIndex    string // resolved: BaseIndex, or BaseIndex+".new" under --create
}

// Resolve fills OutFlatfile/OutIndex per opts.Create.
func (p Paths) Resolve(opts Options) Paths {
	if opts.Create {
		p.OutFlatfile = p.BaseFlatfile + ".new"
		p.OutIndex = p.BaseIndex + ".new"
	} else {
		p.OutFlatfile = p.BaseFlatfile
		p.OutIndex = p.BaseIndex
	}
	return p
}

// Merge appends new onto base and returns the merged flatfile's total
// length.
func Merge(paths Paths, opts Options) (int64, error) {
	log := logrus.WithField("pkg", "merger")
	paths = paths.Resolve(opts)

	baseLen, err := appendFlatfile(paths, opts)
	if err != nil {
		return 0, err
	}
	log.WithField("base_len", baseLen).Debug("appended new flatfile bytes")

	if opts.Small {
		if err := mergeSmall(paths, baseLen); err != nil {
			return 0, err
		}
	} else {
		if err := mergeStreamed(paths, baseLen); err != nil {
			return 0, err
		}
	}

	merged, err := os.Stat(paths.OutFlatfile)
	if err != nil {
		return 0, errors.Wrap(err, "statting merged flatfile")
	}

	if opts.Gzip {
		if err := gzipMerged(paths.OutFlatfile); err != nil {
			return 0, err
		}
	}

	return merged.Size(), nil
}

// appendFlatfile records L = size(base), then writes base's bytes
// (copied to OutFlatfile first under --create) followed by new's bytes.
func appendFlatfile(paths Paths, opts Options) (int64, error) {
	baseInfo, err := os.Stat(paths.BaseFlatfile)
	if err != nil {
		return 0, errors.Wrap(err, "statting base flatfile")
	}
	baseLen := baseInfo.Size()

	if opts.Create {
		if err := copyFile(paths.BaseFlatfile, paths.OutFlatfile); err != nil {
			return 0, errors.Wrap(err, "copying base flatfile for --create")
		}
	}

	out, err := os.OpenFile(paths.OutFlatfile, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "opening merged flatfile for append")
	}
	defer out.Close()

	newF, err := os.Open(paths.NewFlatfile)
	if err != nil {
		return 0, errors.Wrap(err, "opening new flatfile")
	}
	defer newF.Close()

	if _, err := io.Copy(out, newF); err != nil {
		return 0, errors.Wrap(err, "appending new flatfile bytes")
	}

	return baseLen, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// mergeSmall loads the new index, known to be small, fully into memory
// and merges it against the base index via index.Append's sort, avoiding
// the line-by-line streamed merge-join entirely.
func mergeSmall(paths Paths, baseLen int64) error {
	base, err := index.Load(paths.BaseIndex)
	if err != nil {
		return errors.Wrap(err, "loading base index")
	}

	newStore, err := index.Load(paths.NewIndex)
	if err != nil {
		return errors.Wrap(err, "loading new index")
	}

	shifted := newStore.All()
	for i := range shifted {
		shifted[i].Offset += baseLen
	}

	return index.Append(paths.OutIndex, base, shifted)
}

// mergeStreamed is the default merge path: both index files are already
// sorted by identifier, so the merge is a classic sorted merge-join,
// line by line, without loading either fully into memory. The output is
// written to a temporary sibling and renamed over OutIndex at the end, so
// an in-place merge (OutIndex == BaseIndex) never truncates its input.
func mergeStreamed(paths Paths, baseLen int64) error {
	baseF, err := os.Open(paths.BaseIndex)
	if err != nil {
		return errors.Wrap(err, "opening base index")
	}
	defer baseF.Close()

	newF, err := os.Open(paths.NewIndex)
	if err != nil {
		return errors.Wrap(err, "opening new index")
	}
	defer newF.Close()

	tmpPath := paths.OutIndex + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "creating merged index")
	}
	defer out.Close()
	w := bufio.NewWriter(out)
	defer w.Flush()

	baseScan := bufio.NewScanner(baseF)
	baseScan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	newScan := bufio.NewScanner(newF)
	newScan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	baseHeader, baseLine, baseOK := nextRecordLine(baseScan, true)
	_, newLine, newOK := nextRecordLine(newScan, true)

	if baseHeader != "" {
		if _, err := w.WriteString(baseHeader + "\n"); err != nil {
			return errors.Wrap(err, "writing merged header")
		}
	}

	for baseOK && newOK {
		baseID := identifierOf(baseLine)
		newID := identifierOf(newLine)

		switch {
		case baseID <= newID:
			if _, err := w.WriteString(baseLine + "\n"); err != nil {
				return errors.Wrap(err, "writing merged record")
			}
			_, baseLine, baseOK = nextRecordLine(baseScan, false)
		default:
			shiftedLine, err := shiftOffsetLine(newLine, baseLen)
			if err != nil {
				return err
			}
			if _, err := w.WriteString(shiftedLine + "\n"); err != nil {
				return errors.Wrap(err, "writing merged record")
			}
			_, newLine, newOK = nextRecordLine(newScan, false)
		}
	}

	for baseOK {
		if _, err := w.WriteString(baseLine + "\n"); err != nil {
			return errors.Wrap(err, "writing merged record")
		}
		_, baseLine, baseOK = nextRecordLine(baseScan, false)
	}

	for newOK {
		shiftedLine, err := shiftOffsetLine(newLine, baseLen)
		if err != nil {
			return err
		}
		if _, err := w.WriteString(shiftedLine + "\n"); err != nil {
			return errors.Wrap(err, "writing merged record")
		}
		_, newLine, newOK = nextRecordLine(newScan, false)
	}

	if err := baseScan.Err(); err != nil {
		return errors.Wrap(err, "reading base index")
	}
	if err := newScan.Err(); err != nil {
		return errors.Wrap(err, "reading new index")
	}

	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flushing merged index")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "closing merged index")
	}
	return errors.Wrap(os.Rename(tmpPath, paths.OutIndex), "replacing merged index")
}

// nextRecordLine returns the next non-header, non-empty line from scan,
// plus the header line if checkHeader is true and one was found and
// skipped (only meaningful on a stream's very first call).
func nextRecordLine(scan *bufio.Scanner, checkHeader bool) (header, line string, ok bool) {
	for scan.Scan() {
		l := scan.Text()
		if l == "" {
			continue
		}
		if checkHeader && l[0] == '#' {
			header = l
			checkHeader = false
			continue
		}
		return header, l, true
	}
	return header, "", false
}

// identifierOf returns the tab-delimited first field of an index line.
func identifierOf(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '\t' {
			return line[:i]
		}
	}
	return line
}

// shiftOffsetLine rewrites an index line's offset field by adding delta,
// preserving identifier, length, and any trailing checksum field.
func shiftOffsetLine(line string, delta int64) (string, error) {
	var fields []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] == '\t' {
			fields = append(fields, line[start:i])
			start = i + 1
		}
	}
	fields = append(fields, line[start:])

	if len(fields) != 3 && len(fields) != 4 {
		return "", errors.Errorf("malformed index line: %q", line)
	}

	offset, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, "parsing offset in line %q", line)
	}
	fields[1] = strconv.FormatInt(offset+delta, 10)

	out := fields[0]
	for _, f := range fields[1:] {
		out += "\t" + f
	}
	return out, nil
}

// gzipMerged compresses path in place as a multi-member gzip stream and
// builds a sibling .gzi side index over the result's member boundaries.
// Chunking into independent members (rather than one unbroken stream, as
// gzip(1) would produce) is what gives the side index more than its one
// unavoidable access point at offset 0.
func gzipMerged(path string) error {
	gzPath := path + ".gz"
	if err := gzipChunked(path, gzPath); err != nil {
		return errors.Wrap(err, "gzip-compressing merged flatfile")
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrap(err, "removing uncompressed flatfile")
	}

	gz, err := os.Open(gzPath)
	if err != nil {
		return errors.Wrap(err, "opening gzipped flatfile")
	}
	defer gz.Close()

	table, err := sideindex.BuildFromPlainGzip(gz)
	if err != nil {
		return errors.Wrap(err, "building side index over gzipped flatfile")
	}

	gzi, err := os.Create(gzPath + ".gzi")
	if err != nil {
		return errors.Wrap(err, "creating side index file")
	}
	defer gzi.Close()

	return table.Save(gzi)
}

// gzipChunked reads srcPath in gzipMemberSize blocks and writes dstPath
// as a concatenation of independent gzip members, one per block, so that
// BuildFromPlainGzip later finds an access point every gzipMemberSize
// uncompressed bytes instead of just one at the start of the stream.
func gzipChunked(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "opening flatfile")
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "creating gzipped flatfile")
	}
	defer dst.Close()

	buf := make([]byte, gzipMemberSize)
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			zw := gzip.NewWriter(dst)
			if _, err := zw.Write(buf[:n]); err != nil {
				return errors.Wrap(err, "writing gzip member")
			}
			if err := zw.Close(); err != nil {
				return errors.Wrap(err, "flushing gzip member")
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return errors.Wrap(readErr, "reading flatfile")
		}
	}

	return dst.Close()
}
