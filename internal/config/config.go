// Package config holds the CLI flags, defaults, and TOML layer shared by
// FFDB's four binaries: a kong-parsed CLI struct plus an optional TOML
// file, with environment variables loaded from .env via godotenv.
package config

import (
	"fmt"
	"os"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const (
	EnvVarPrefix = "FFDB"

	DefaultThreads     = 1
	DefaultBlockSize   = 0 // 0: derive from threads (ceil(n/threads))
	DefaultAESBits     = 256
	DefaultIterations  = 100000
	DefaultZlibLevel   = 6
	DefaultCoalesceGap = 4096
)

// VERSION is set at build time via -ldflags.
var VERSION = "0.0.0"

// Common holds the flags every FFDB binary accepts.
type Common struct {
	Threads   int    `kong:"help='Worker pool size',short='t',default='1'"`
	BlockSize int    `kong:"help='Entries per parallel block (0: derive from threads)',short='b',default='0'"`
	Debug     bool   `kong:"help='Enable debug logging',short='d'"`
	TOMLFile  string `kong:"help='Path to a TOML config file (accepted; the binaries do not read it)',type='path',name='config'"`
}

// TOML is the optional on-disk settings file parsed by LoadTOML. None of
// the four binaries calls LoadTOML, so its values are not merged with
// CLI flags.
type TOML struct {
	Codec *TOMLCodec `toml:"codec"`
}

type TOMLCodec struct {
	AESBits    int    `toml:"aes_bits"`
	Iterations int    `toml:"iterations"`
	ZlibLevel  int    `toml:"zlib_level"`
	LegacyKDF  bool   `toml:"legacy_kdf"`
	KDF        string `toml:"kdf"`
}

// LoadTOML reads and parses path, if non-empty, applying defaults for
// anything left zero-valued. A missing path is not an error: tools run
// fine from CLI flags alone.
func LoadTOML(path string) (*TOML, error) {
	t := &TOML{Codec: &TOMLCodec{}}
	if path == "" {
		setTOMLDefaults(t)
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading TOML config")
	}
	if err := toml.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "parsing TOML config")
	}
	if t.Codec == nil {
		t.Codec = &TOMLCodec{}
	}

	setTOMLDefaults(t)
	return t, nil
}

func setTOMLDefaults(t *TOML) {
	if t.Codec.AESBits == 0 {
		t.Codec.AESBits = DefaultAESBits
	}
	if t.Codec.Iterations == 0 {
		t.Codec.Iterations = DefaultIterations
	}
	if t.Codec.ZlibLevel == 0 {
		t.Codec.ZlibLevel = DefaultZlibLevel
	}
	if t.Codec.KDF == "" {
		t.Codec.KDF = "pbkdf2-sha256"
	}
}

// LoadDotEnv loads a .env file from the working directory, if present.
// FFDB never reads the passphrase from the environment; this only primes
// the FFDB_-prefixed variables kong binds to the non-secret flags.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

// ResolvePassphrase returns flagVal if non-empty, else prompts on the
// controlling TTY with echo disabled.
func ResolvePassphrase(flagVal string) (string, error) {
	if flagVal != "" {
		return flagVal, nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	bytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "reading passphrase from terminal")
	}
	return string(bytes), nil
}
