package index

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/g-insana/ffdb/internal/codec"
)

// Header carries the optional key=value comment line allowed at the top
// of an index file. Parsers must tolerate its absence (legacy mode).
type Header struct {
	Present    bool
	CodecStack codec.Stack
	AESBits    int
	KDF        string
	Iterations int
	Salt       []byte
	Checksums  bool
}

// parseHeader parses a "#key=value key=value ..." comment line.
func parseHeader(line string) (Header, error) {
	h := Header{Present: true, CodecStack: codec.StackNone}

	body := strings.TrimPrefix(line, "#")
	for _, field := range strings.Fields(body) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]

		switch key {
		case "codec":
			h.CodecStack = codec.Stack(val)
		case "aes":
			bits, err := strconv.Atoi(val)
			if err != nil {
				return Header{}, errors.Wrapf(err, "parsing aes= header field %q", val)
			}
			h.AESBits = bits
		case "kdf":
			h.KDF = val
		case "iter":
			n, err := strconv.Atoi(val)
			if err != nil {
				return Header{}, errors.Wrapf(err, "parsing iter= header field %q", val)
			}
			h.Iterations = n
		case "salt":
			salt, err := hex.DecodeString(val)
			if err != nil {
				return Header{}, errors.Wrapf(err, "parsing salt= header field %q", val)
			}
			h.Salt = salt
		case "crc":
			h.Checksums = val == "1"
		}
	}

	switch h.CodecStack {
	case codec.StackNone, codec.StackZlib, codec.StackAES, codec.StackAESZlib:
	default:
		return Header{}, errors.Wrapf(codec.ErrUnsupportedCodec, "codec=%q", h.CodecStack)
	}

	return h, nil
}

// formatHeader renders h as the optional first line of an index file.
func formatHeader(h Header) string {
	var b strings.Builder
	b.WriteByte('#')
	b.WriteString("codec=")
	b.WriteString(string(h.CodecStack))

	if h.CodecStack.HasAES() {
		b.WriteString(" aes=")
		b.WriteString(strconv.Itoa(h.AESBits))
		b.WriteString(" kdf=")
		b.WriteString(h.KDF)
		b.WriteString(" iter=")
		b.WriteString(strconv.Itoa(h.Iterations))
		b.WriteString(" salt=")
		b.WriteString(hex.EncodeToString(h.Salt))
	}

	if h.Checksums {
		b.WriteString(" crc=1")
	}

	return b.String()
}
