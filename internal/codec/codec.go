// Package codec implements the per-entry transform stack: ZLIB compression
// and AES-CBC+PKCS7 encryption, composed in a fixed order (compress then
// encrypt on write, decrypt then decompress on read).
package codec

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Stack names the codecs active for an index, matching the index header's
// codec= field.
type Stack string

const (
	StackNone    Stack = "none"
	StackZlib    Stack = "zlib"
	StackAES     Stack = "aes"
	StackAESZlib Stack = "aes+zlib"
)

const (
	// KDFName is the only key-derivation function FFDB declares in index
	// headers. See DESIGN.md for why PBKDF2-HMAC-SHA256 was chosen.
	KDFName = "pbkdf2-sha256"

	// DefaultIterations is the PBKDF2 iteration count for new indexes; the
	// binaries read the same value from config.DefaultIterations.
	DefaultIterations = 100000

	// LegacyIterations is used in legacy-KDF compatibility mode, applied
	// when an AES index header declares no salt.
	LegacyIterations = 1
)

// LegacySalt is the fixed, well-known salt used in legacy-KDF
// compatibility mode, for indexes whose header declares no salt. It provides no real security margin; it exists only so that
// pre-existing indexes without a header remain readable.
var LegacySalt = []byte("ffdb-legacy-salt")

var (
	// ErrBadPassphrase is returned when PKCS7 unpadding fails, or (when
	// zlib is also in the stack) the decrypted bytes do not carry a valid
	// zlib header.
	ErrBadPassphrase = errors.New("bad passphrase")

	// ErrCorruptEntry is returned when a requested checksum does not
	// match the decoded plaintext.
	ErrCorruptEntry = errors.New("corrupt entry: checksum mismatch")

	// ErrUnsupportedCodec is returned when an index header declares a
	// codec configuration this binary cannot service.
	ErrUnsupportedCodec = errors.New("unsupported codec configuration")
)

// Context is the immutable per-run codec configuration, threaded through
// workers by value instead of held as global state.
type Context struct {
	Stack     Stack
	Key       []byte // derived AES key, nil if Stack has no aes component
	ZlibLevel int    // 0-9, only meaningful when Stack has a zlib component
	Checksum  bool   // not read by Encode/Decode; callers use CRC32/VerifyCRC32
}

// DeriveKey derives an AES key of keyBits length from passphrase via
// PBKDF2-HMAC-SHA256 with the given salt and iteration count.
func DeriveKey(passphrase string, salt []byte, iterations, keyBits int) ([]byte, error) {
	keyLen := keyBits / 8
	switch keyLen {
	case 16, 24, 32:
	default:
		return nil, errors.Errorf("unsupported AES key size: %d bits", keyBits)
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New), nil
}

// HasAES reports whether the stack includes AES encryption.
func (s Stack) HasAES() bool {
	return s == StackAES || s == StackAESZlib
}

// HasZlib reports whether the stack includes ZLIB compression.
func (s Stack) HasZlib() bool {
	return s == StackZlib || s == StackAESZlib
}

// Encode applies compress-then-encrypt to plaintext per c.Stack, returning
// the bytes to store on disk (IV-prefixed when AES is active).
func (c *Context) Encode(plaintext []byte) ([]byte, error) {
	data := plaintext
	var err error

	if c.Stack.HasZlib() {
		data, err = compress(data, c.ZlibLevel)
		if err != nil {
			return nil, errors.Wrap(err, "zlib compress")
		}
	}

	if c.Stack.HasAES() {
		data, err = encryptCBC(data, c.Key)
		if err != nil {
			return nil, errors.Wrap(err, "aes encrypt")
		}
	}

	return data, nil
}

// Decode reverses Encode: decrypt then decompress. A checksum, when
// present on the record, should be verified by the caller via VerifyCRC32
// after Decode succeeds.
func (c *Context) Decode(encoded []byte) ([]byte, error) {
	data := encoded
	var err error

	if c.Stack.HasAES() {
		data, err = decryptCBC(data, c.Key)
		if err != nil {
			return nil, err // already ErrBadPassphrase-wrapped
		}
		if c.Stack.HasZlib() && !looksLikeZlib(data) {
			return nil, errors.WithStack(ErrBadPassphrase)
		}
	}

	if c.Stack.HasZlib() {
		data, err = decompress(data)
		if err != nil {
			if c.Stack.HasAES() {
				return nil, errors.Wrap(ErrBadPassphrase, err.Error())
			}
			return nil, errors.Wrap(err, "zlib decompress")
		}
	}

	return data, nil
}

// CRC32 computes the checksum recorded in the index for decoded plaintext.
func CRC32(plaintext []byte) uint32 {
	return crc32.ChecksumIEEE(plaintext)
}

// VerifyCRC32 returns ErrCorruptEntry if plaintext's checksum does not
// match want.
func VerifyCRC32(plaintext []byte, want uint32) error {
	if CRC32(plaintext) != want {
		return errors.WithStack(ErrCorruptEntry)
	}
	return nil
}

func compress(plaintext []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// looksLikeZlib checks the 2-byte zlib header magic (CMF/FLG), the same
// sanity check a zlib.NewReader would perform internally, done up-front so
// a wrong passphrase can be distinguished from a genuinely corrupt stream.
func looksLikeZlib(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 { // compression method must be "deflate"
		return false
	}
	return (uint16(cmf)*256+uint16(flg))%31 == 0
}

func encryptCBC(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, errors.Wrap(err, "generating IV")
	}

	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(out[len(iv):], padded)

	return out, nil
}

func decryptCBC(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aes.BlockSize {
		return nil, errors.WithStack(ErrBadPassphrase)
	}

	iv := ciphertext[:aes.BlockSize]
	body := ciphertext[aes.BlockSize:]

	if len(body) == 0 || len(body)%block.BlockSize() != 0 {
		return nil, errors.WithStack(ErrBadPassphrase)
	}

	out := make([]byte, len(body))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(out, body)

	unpadded, err := pkcs7Unpad(out, block.BlockSize())
	if err != nil {
		return nil, errors.WithStack(ErrBadPassphrase)
	}

	return unpadded, nil
}

// pkcs7Pad and pkcs7Unpad mirror the style of rclone's backend/crypt/pkcs7
// and gocryptfs' contentenc padding helpers: pad to the block size, unpad
// by trusting the trailing byte value but validating every padding byte.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("pkcs7: invalid data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("pkcs7: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("pkcs7: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
