package indexer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/g-insana/ffdb/internal/codec"
)

func writeFlatfile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.db")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestBuildSingleRecordPerEntry(t *testing.T) {
	// Three entries separated by a terminator line, one independent
	// identifier pattern.
	data := "ID alpha\nalpha-entry-bytes\n//\nID beta\nbeta-entry-bytes!!\n//\nID gamma\ngamma-entry-bytes...\n//\n"
	path := writeFlatfile(t, data)

	opts := Options{
		Terminator: regexp.MustCompile(`^//$`),
		Patterns:   []Pattern{{Re: regexp.MustCompile(`^ID (\w+)`), Kind: Independent}},
		Threads:    1,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(result.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(result.Records))
	}

	want := map[string]bool{"alpha": true, "beta": true, "gamma": true}
	for _, r := range result.Records {
		if !want[r.Identifier] {
			t.Errorf("unexpected identifier %q", r.Identifier)
		}
		delete(want, r.Identifier)

		buf := make([]byte, r.Length)
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := f.ReadAt(buf, r.Offset); err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		f.Close()

		if !regexp.MustCompile(`^ID ` + r.Identifier + `\n` + r.Identifier + `-entry-bytes`).Match(buf) {
			t.Errorf("record for %q does not point at its own entry bytes: %q", r.Identifier, buf)
		}
	}
	if len(want) != 0 {
		t.Errorf("missing identifiers: %v", want)
	}
}

func TestBuildJoinedPatternConcatenatesCaptures(t *testing.T) {
	data := "SP   P12345 9606\nentry-one-bytes\n//\n"
	path := writeFlatfile(t, data)

	opts := Options{
		Terminator: regexp.MustCompile(`^//$`),
		Patterns:   []Pattern{{Re: regexp.MustCompile(`^SP\s+(\S+)\s+(\S+)`), Kind: Joined}},
		Threads:    1,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	if result.Records[0].Identifier != "P12345:9606" {
		t.Errorf("identifier = %q, want %q", result.Records[0].Identifier, "P12345:9606")
	}
}

func TestBuildAppendAllRecordsEveryMatch(t *testing.T) {
	data := "AC alpha; beta; gamma;\nentry-bytes\n//\n"
	path := writeFlatfile(t, data)

	opts := Options{
		Terminator: regexp.MustCompile(`^//$`),
		Patterns:   []Pattern{{Re: regexp.MustCompile(`(\w+);`), Kind: Independent}},
		AppendAll:  true,
		Threads:    1,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Records) != 3 {
		t.Fatalf("got %d records, want 3 (alpha, beta, gamma)", len(result.Records))
	}
}

func TestBuildNoEntryCrossesBlockBoundary(t *testing.T) {
	var data string
	ids := []string{"one", "two", "three", "four", "five", "six"}
	for _, id := range ids {
		data += "ID " + id + "\n" + id + "-payload-bytes-of-some-length\n//\n"
	}
	path := writeFlatfile(t, data)

	opts := Options{
		Terminator: regexp.MustCompile(`^//$`),
		Patterns:   []Pattern{{Re: regexp.MustCompile(`^ID (\w+)`), Kind: Independent}},
		Threads:    4,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Records) != len(ids) {
		t.Fatalf("got %d records, want %d (parallel split must not drop or split entries)", len(result.Records), len(ids))
	}
}

func TestBuildReencodesThroughCodecAndShiftsOffset(t *testing.T) {
	data := "ID alpha\nalpha-entry-bytes\n//\nID beta\nbeta-entry-bytes!!\n//\n"
	path := writeFlatfile(t, data)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "flat.enc")

	cctx := &codec.Context{Stack: codec.StackZlib, ZlibLevel: 6}

	opts := Options{
		Terminator:  regexp.MustCompile(`^//$`),
		Patterns:    []Pattern{{Re: regexp.MustCompile(`^ID (\w+)`), Kind: Independent}},
		Threads:     1,
		Codec:       cctx,
		OffsetShift: 1000,
		OutputPath:  outPath,
		Checksum:    true,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(result.Records))
	}

	for _, r := range result.Records {
		if r.Offset < 1000 {
			t.Errorf("record offset %d not shifted past OffsetShift 1000", r.Offset)
		}
		if !r.HasChecksum {
			t.Errorf("record for %q missing checksum despite Checksum:true", r.Identifier)
		}

		encoded := make([]byte, r.Length)
		f, err := os.Open(outPath)
		if err != nil {
			t.Fatalf("Open output: %v", err)
		}
		if _, err := f.ReadAt(encoded, r.Offset-opts.OffsetShift); err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		f.Close()

		plain, err := cctx.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := codec.VerifyCRC32(plain, r.Checksum); err != nil {
			t.Errorf("checksum mismatch for %q: %v", r.Identifier, err)
		}
	}
}

func TestBuildUnsortedPreservesScanOrder(t *testing.T) {
	data := "ID zeta\nzeta-bytes\n//\nID alpha\nalpha-bytes\n//\n"
	path := writeFlatfile(t, data)

	opts := Options{
		Terminator: regexp.MustCompile(`^//$`),
		Patterns:   []Pattern{{Re: regexp.MustCompile(`^ID (\w+)`), Kind: Independent}},
		Threads:    1,
		Unsorted:   true,
	}

	result, err := Build(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(result.Records))
	}
	if result.Records[0].Identifier != "zeta" || result.Records[1].Identifier != "alpha" {
		t.Errorf("unsorted order not preserved: %+v", result.Records)
	}
}
