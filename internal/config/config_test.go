package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTOMLAppliesDefaultsWhenPathEmpty(t *testing.T) {
	tom, err := LoadTOML("")
	if err != nil {
		t.Fatalf("LoadTOML: %v", err)
	}
	if tom.Codec.AESBits != DefaultAESBits {
		t.Errorf("AESBits = %d, want %d", tom.Codec.AESBits, DefaultAESBits)
	}
	if tom.Codec.Iterations != DefaultIterations {
		t.Errorf("Iterations = %d, want %d", tom.Codec.Iterations, DefaultIterations)
	}
}

func TestLoadTOMLOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ffdb.toml")
	content := "[codec]\naes_bits = 128\nzlib_level = 9\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tom, err := LoadTOML(path)
	if err != nil {
		t.Fatalf("LoadTOML: %v", err)
	}
	if tom.Codec.AESBits != 128 {
		t.Errorf("AESBits = %d, want 128", tom.Codec.AESBits)
	}
	if tom.Codec.ZlibLevel != 9 {
		t.Errorf("ZlibLevel = %d, want 9", tom.Codec.ZlibLevel)
	}
	if tom.Codec.Iterations != DefaultIterations {
		t.Errorf("Iterations should still default to %d, got %d", DefaultIterations, tom.Codec.Iterations)
	}
}

func TestResolvePassphrasePrefersFlagValue(t *testing.T) {
	got, err := ResolvePassphrase("supplied")
	if err != nil {
		t.Fatalf("ResolvePassphrase: %v", err)
	}
	if got != "supplied" {
		t.Errorf("got %q, want %q", got, "supplied")
	}
}
