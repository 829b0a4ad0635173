// Command ffidx builds a sorted index.Store from a flatfile.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"regexp"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/g-insana/ffdb/internal/codec"
	"github.com/g-insana/ffdb/internal/config"
	"github.com/g-insana/ffdb/internal/exitcode"
	"github.com/g-insana/ffdb/internal/index"
	"github.com/g-insana/ffdb/internal/indexer"
	"github.com/g-insana/ffdb/internal/logging"
)

type cli struct {
	config.Common

	Flatfile string `kong:"arg,help='Flatfile to index',type='path'"`

	Terminator  string   `kong:"help='Entry-terminator regexp',short='T',default='^$'"`
	Independent []string `kong:"help='Independent identifier pattern (repeatable)',short='i'"`
	Joined      []string `kong:"help='Joined identifier pattern (repeatable)',short='j'"`
	AppendAll   bool     `kong:"help='Record every match of an independent pattern, not just the first',short='a'"`
	Unsorted    bool     `kong:"help='Skip the final sort, preserving scan order',short='u'"`
	Checksum    bool     `kong:"help='Record a CRC32 checksum of each entry plaintext',short='x'"`

	Passphrase string `kong:"help='Encryption passphrase (prompted on TTY if omitted and -k is set)',short='p',env='-'"`
	KeyBits    int    `kong:"help='AES key size in bits; 0 disables encryption',short='k',default='0'"`
	Zlib       bool   `kong:"help='Compress each entry with zlib before encrypting'"`
	Offset     int64  `kong:"help='Offset shift applied to every recorded offset',default='0'"`

	IndexOut   string `kong:"help='Index output path (default: <flatfile>.idx)',short='o'"`
	FlatOut    string `kong:"help='Re-encoded flatfile output path (required with -k or --zlib)',short='O'"`
}

func main() {
	config.LoadDotEnv()

	var c cli
	kong.Parse(&c,
		kong.Name("ffidx"),
		kong.Description("Build a sorted index over a flatfile"),
		kong.UsageOnError(),
		kong.DefaultEnvars(config.EnvVarPrefix),
	)

	logging.Setup(c.Debug)

	os.Exit(run(&c))
}

func run(c *cli) int {
	log := logrus.WithField("pkg", "ffidx")

	if c.IndexOut == "" {
		c.IndexOut = c.Flatfile + ".idx"
	}
	if (c.KeyBits > 0 || c.Zlib) && c.FlatOut == "" {
		fmt.Fprintln(os.Stderr, "error: -O/--flat-out is required when re-encoding with -k or --zlib")
		return exitcode.UsageError
	}

	terminator, err := regexp.Compile(c.Terminator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid terminator regexp: %v\n", err)
		return exitcode.UsageError
	}

	patterns, err := compilePatterns(c.Independent, c.Joined)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitcode.UsageError
	}
	if len(patterns) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one -i or -j identifier pattern is required")
		return exitcode.UsageError
	}

	opts := indexer.Options{
		Terminator:  terminator,
		Patterns:    patterns,
		AppendAll:   c.AppendAll,
		Threads:     c.Threads,
		Unsorted:    c.Unsorted,
		Checksum:    c.Checksum,
		OffsetShift: c.Offset,
	}

	hdr := index.Header{CodecStack: codec.StackNone, Checksums: c.Checksum}
	if c.KeyBits > 0 || c.Zlib {
		cctx, h, err := buildCodecContext(c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitcode.UsageError
		}
		opts.Codec = cctx
		opts.OutputPath = c.FlatOut
		hdr = h
	}
	hdr.Present = hdr.CodecStack != codec.StackNone || c.Checksum

	result, err := indexer.Build(context.Background(), c.Flatfile, opts)
	if err != nil {
		log.WithError(err).Error("indexing failed")
		return exitcode.IOError
	}

	if err := index.Write(c.IndexOut, hdr, result.Records); err != nil {
		log.WithError(err).Error("writing index failed")
		return exitcode.IOError
	}

	log.WithField("records", len(result.Records)).Info("index built")
	return exitcode.OK
}

func compilePatterns(independent, joined []string) ([]indexer.Pattern, error) {
	var patterns []indexer.Pattern
	for _, p := range independent {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid -i pattern %q", p)
		}
		patterns = append(patterns, indexer.Pattern{Re: re, Kind: indexer.Independent})
	}
	for _, p := range joined {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid -j pattern %q", p)
		}
		patterns = append(patterns, indexer.Pattern{Re: re, Kind: indexer.Joined})
	}
	return patterns, nil
}

func buildCodecContext(c *cli) (*codec.Context, index.Header, error) {
	stack := codec.StackNone
	switch {
	case c.KeyBits > 0 && c.Zlib:
		stack = codec.StackAESZlib
	case c.KeyBits > 0:
		stack = codec.StackAES
	case c.Zlib:
		stack = codec.StackZlib
	}

	hdr := index.Header{CodecStack: stack, Checksums: c.Checksum}

	cctx := &codec.Context{Stack: stack, ZlibLevel: config.DefaultZlibLevel}

	if stack.HasAES() {
		pass, err := config.ResolvePassphrase(c.Passphrase)
		if err != nil {
			return nil, hdr, err
		}

		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, hdr, errors.Wrap(err, "generating salt")
		}

		key, err := codec.DeriveKey(pass, salt, config.DefaultIterations, c.KeyBits)
		if err != nil {
			return nil, hdr, err
		}

		cctx.Key = key
		hdr.AESBits = c.KeyBits
		hdr.KDF = codec.KDFName
		hdr.Iterations = config.DefaultIterations
		hdr.Salt = salt
	}

	return cctx, hdr, nil
}
