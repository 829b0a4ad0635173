package codec

import (
	"bytes"
	"testing"
)

func TestRoundTripEachStack(t *testing.T) {
	key, err := DeriveKey("secret", []byte("salt1234salt5678"), 1000, 256)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog, several times over")

	stacks := []Stack{StackNone, StackZlib, StackAES, StackAESZlib}

	for _, stack := range stacks {
		ctx := &Context{Stack: stack, Key: key, ZlibLevel: 6}

		encoded, err := ctx.Encode(plaintext)
		if err != nil {
			t.Fatalf("stack %s: Encode: %v", stack, err)
		}

		decoded, err := ctx.Decode(encoded)
		if err != nil {
			t.Fatalf("stack %s: Decode: %v", stack, err)
		}

		if !bytes.Equal(decoded, plaintext) {
			t.Errorf("stack %s: round-trip mismatch: got %q want %q", stack, decoded, plaintext)
		}
	}
}

func TestAESEntriesHaveDistinctIVs(t *testing.T) {
	key, _ := DeriveKey("secret", []byte("salt1234salt5678"), 1000, 128)
	ctx := &Context{Stack: StackAES, Key: key}

	plaintext := []byte("same plaintext, twice")

	a, err := ctx.Encode(plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := ctx.Encode(plaintext)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if bytes.Equal(a, b) {
		t.Error("expected distinct ciphertexts for identical plaintext due to per-entry IV")
	}
	if bytes.Equal(a[:16], b[:16]) {
		t.Error("expected distinct IVs")
	}
}

func TestBadPassphrase(t *testing.T) {
	key, _ := DeriveKey("right", []byte("salt1234salt5678"), 1000, 256)
	wrongKey, _ := DeriveKey("wrong", []byte("salt1234salt5678"), 1000, 256)

	ctx := &Context{Stack: StackAESZlib, Key: key, ZlibLevel: 6}
	wrongCtx := &Context{Stack: StackAESZlib, Key: wrongKey, ZlibLevel: 6}

	encoded, err := ctx.Encode([]byte("some plaintext entry"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := wrongCtx.Decode(encoded); err == nil {
		t.Error("expected an error decoding with the wrong key")
	}
}

func TestChecksumMismatch(t *testing.T) {
	plaintext := []byte("entry contents")
	sum := CRC32(plaintext)

	if err := VerifyCRC32(plaintext, sum); err != nil {
		t.Errorf("expected matching checksum to verify, got %v", err)
	}

	if err := VerifyCRC32(plaintext, sum+1); err == nil {
		t.Error("expected mismatched checksum to fail verification")
	}
}

func TestUnsupportedKeySize(t *testing.T) {
	if _, err := DeriveKey("secret", []byte("salt"), 1000, 100); err == nil {
		t.Error("expected error for unsupported key size")
	}
}
