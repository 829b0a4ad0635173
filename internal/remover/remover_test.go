package remover

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/g-insana/ffdb/internal/index"
)

func buildStoreAndFlat(t *testing.T) (dir, flatPath string, store *index.Store) {
	t.Helper()
	dir = t.TempDir()

	entries := []struct {
		id   string
		data string
	}{
		{"alpha", "alpha-entry-bytes"},
		{"beta", "beta-entry-bytes!!"},
		{"delta", "delta-entry-bytes###"},
		{"gamma", "gamma-entry-bytes..."},
	}

	var data []byte
	var lines []string
	for _, e := range entries {
		offset := len(data)
		data = append(data, e.data...)
		lines = append(lines, e.id+"\t"+itoa(offset)+"\t"+itoa(len(e.data)))
	}

	flatPath = filepath.Join(dir, "flat.db")
	if err := os.WriteFile(flatPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idxPath := filepath.Join(dir, "flat.idx")
	if err := os.WriteFile(idxPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var err error
	store, err = index.Load(idxPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return dir, flatPath, store
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestRemoveMiddleEntryShiftsSurvivors(t *testing.T) {
	dir, flatPath, store := buildStoreAndFlat(t)

	dstFlat := filepath.Join(dir, "out.db")
	dstIdx := filepath.Join(dir, "out.idx")

	removed, err := Remove(store, flatPath, dstFlat, dstIdx, []string{"beta"}, Options{Policy: index.PolicyFirst, Threads: 2})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != int64(len("beta-entry-bytes!!")) {
		t.Errorf("removed = %d, want %d", removed, len("beta-entry-bytes!!"))
	}

	data, err := os.ReadFile(dstFlat)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "beta") {
		t.Errorf("deleted entry's bytes still present: %q", data)
	}

	newStore, err := index.Load(dstIdx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(newStore.Lookup("beta", index.PolicyFirst)) != 0 {
		t.Error("beta should be absent from the reindexed output")
	}

	for _, id := range []string{"alpha", "gamma", "delta"} {
		recs := newStore.Lookup(id, index.PolicyFirst)
		if len(recs) != 1 {
			t.Fatalf("expected exactly one record for %q, got %d", id, len(recs))
		}
		rec := recs[0]
		entryBytes := data[rec.Offset : rec.Offset+rec.Length]
		if !strings.HasPrefix(string(entryBytes), id) {
			t.Errorf("record for %q points at %q after removal", id, entryBytes)
		}
	}
}

func TestRemovePreservesIndexHeader(t *testing.T) {
	dir := t.TempDir()

	data := []byte("aaaaaaaaaabbbbbbbbbb")
	flatPath := filepath.Join(dir, "flat.db")
	if err := os.WriteFile(flatPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idxPath := filepath.Join(dir, "flat.idx")
	contents := "#codec=aes aes=256 kdf=pbkdf2-sha256 iter=100000 salt=aabbcc\n" +
		"alpha\t0\t10\n" +
		"beta\t10\t10\n"
	if err := os.WriteFile(idxPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := index.Load(idxPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !store.Header.Present || store.Header.CodecStack != "aes" {
		t.Fatalf("precondition: header not loaded as expected: %+v", store.Header)
	}

	dstFlat := filepath.Join(dir, "out.db")
	dstIdx := filepath.Join(dir, "out.idx")

	if _, err := Remove(store, flatPath, dstFlat, dstIdx, []string{"alpha"}, Options{Policy: index.PolicyFirst, Threads: 1}); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	newStore, err := index.Load(dstIdx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !newStore.Header.Present {
		t.Fatal("reindexed output dropped the header: codec config is now unrecoverable")
	}
	if newStore.Header.CodecStack != store.Header.CodecStack {
		t.Errorf("CodecStack = %q, want %q", newStore.Header.CodecStack, store.Header.CodecStack)
	}
	if newStore.Header.AESBits != store.Header.AESBits {
		t.Errorf("AESBits = %d, want %d", newStore.Header.AESBits, store.Header.AESBits)
	}
}

func TestRemoveAllPolicyRemovesEveryDuplicate(t *testing.T) {
	dir := t.TempDir()

	data := []byte("aaaaaaaaaaxxxxxxxxxxbbbbbbbbbb")
	flatPath := filepath.Join(dir, "flat.db")
	if err := os.WriteFile(flatPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idxPath := filepath.Join(dir, "flat.idx")
	lines := []string{
		"9606\t0\t10",
		"9606\t10\t10",
		"keep\t20\t10",
	}
	if err := os.WriteFile(idxPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := index.Load(idxPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dstFlat := filepath.Join(dir, "out.db")
	dstIdx := filepath.Join(dir, "out.idx")

	removed, err := Remove(store, flatPath, dstFlat, dstIdx, []string{"9606"}, Options{Policy: index.PolicyAll, Threads: 1})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed != 20 {
		t.Errorf("removed = %d, want 20", removed)
	}

	out, err := os.ReadFile(dstFlat)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(out) != "bbbbbbbbbb" {
		t.Fatalf("surviving flatfile = %q, want %q", out, "bbbbbbbbbb")
	}

	newStore, err := index.Load(dstIdx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	recs := newStore.Lookup("keep", index.PolicyFirst)
	if len(recs) != 1 || recs[0].Offset != 0 {
		t.Errorf("keep record offset not shifted correctly: %+v", recs)
	}
}
