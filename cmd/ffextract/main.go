// Command ffextract resolves identifiers to bytes via an index and a
// byte source.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/g-insana/ffdb/internal/bytesource"
	"github.com/g-insana/ffdb/internal/codec"
	"github.com/g-insana/ffdb/internal/config"
	"github.com/g-insana/ffdb/internal/exitcode"
	"github.com/g-insana/ffdb/internal/extractor"
	"github.com/g-insana/ffdb/internal/index"
	"github.com/g-insana/ffdb/internal/logging"
	"github.com/g-insana/ffdb/internal/planner"
)

type cli struct {
	config.Common

	Flatfile string `kong:"arg,help='Flatfile or URL (http/https/ftp) to read from'"`
	IndexIn  string `kong:"help='Index path (default: <flatfile>.idx)',short='x'"`

	Select []string `kong:"help='Identifier to extract (repeatable)',short='s'"`

	First bool `kong:"help='Use the first of duplicate records (default)'"`
	Last  bool `kong:"help='Use the last of duplicate records',short='z'"`
	All   bool `kong:"help='Return every duplicate record',short='D'"`

	Merged bool `kong:"help='Coalesce adjacent reads into fewer requests',short='m'"`

	Passphrase     string `kong:"help='Decryption passphrase (prompted on TTY if omitted and the index declares AES)',short='p',env='-'"`
	VerifyChecksum bool   `kong:"help='Verify each entry against its recorded CRC32',short='c'"`

	GzipSideIndex string `kong:"help='.gzi side index path/URL, when Flatfile is whole-file gzipped'"`
	CacheDir      string `kong:"help='Local cache dir for remote gzip member reads'"`

	Out string `kong:"help='Write extracted bytes here instead of stdout (one per identifier, NUL-separated)',short='o'"`
}

func main() {
	config.LoadDotEnv()

	var c cli
	kong.Parse(&c,
		kong.Name("ffextract"),
		kong.Description("Extract entries from a flatfile by identifier"),
		kong.UsageOnError(),
		kong.DefaultEnvars(config.EnvVarPrefix),
	)

	logging.Setup(c.Debug)

	os.Exit(run(&c))
}

func run(c *cli) int {
	log := logrus.WithField("pkg", "ffextract")

	if c.IndexIn == "" {
		c.IndexIn = c.Flatfile + ".idx"
	}
	if len(c.Select) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one -s identifier is required")
		return exitcode.UsageError
	}

	store, err := index.Load(c.IndexIn)
	if err != nil {
		if errors.Is(err, index.ErrUnsortedIndex) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitcode.IntegrityFailure
		}
		log.WithError(err).Error("loading index failed")
		return exitcode.IOError
	}

	var cctx *codec.Context
	if store.Header.Present && store.Header.CodecStack != codec.StackNone {
		cctx, err = codecFromHeader(store.Header, c.Passphrase)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitcode.UsageError
		}
	}

	gzipKind := bytesource.GzipNone
	if c.GzipSideIndex != "" {
		gzipKind = bytesource.GzipWholeFile
	}

	src, err := bytesource.Open(c.Flatfile, bytesource.OpenOptions{
		Gzip:         gzipKind,
		SideIndexURL: c.GzipSideIndex,
		CacheDir:     c.CacheDir,
	})
	if err != nil {
		log.WithError(err).Error("opening byte source failed")
		return exitcode.IOError
	}
	defer src.Close()

	mode := planner.ModePerEntry
	if c.Merged {
		mode = planner.ModeMerged
	}

	results, err := extractor.Extract(context.Background(), store, src, c.Select, extractor.Options{
		Policy:         resolvePolicy(c),
		PlanMode:       mode,
		Threads:        c.Threads,
		BlockSize:      c.BlockSize,
		VerifyChecksum: c.VerifyChecksum,
		Codec:          cctx,
	})
	if err != nil {
		log.WithError(err).Error("extraction failed")
		return exitcode.IOError
	}

	return reportResults(c, results)
}

func resolvePolicy(c *cli) index.Policy {
	switch {
	case c.All:
		return index.PolicyAll
	case c.Last:
		return index.PolicyLast
	default:
		return index.PolicyFirst
	}
}

func reportResults(c *cli, results []extractor.Result) int {
	out := os.Stdout
	if c.Out != "" {
		f, err := os.Create(c.Out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: creating output file: %v\n", err)
			return exitcode.IOError
		}
		defer f.Close()
		out = f
	}

	code := exitcode.OK
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", r.Identifier, r.Err)
			if errors.Is(r.Err, codec.ErrBadPassphrase) {
				return exitcode.IntegrityFailure
			}
			if errors.Is(r.Err, codec.ErrCorruptEntry) {
				code = exitcode.IntegrityFailure
				continue
			}
			if errors.Is(r.Err, extractor.ErrUnknownIdentifier) {
				if code == exitcode.OK {
					code = exitcode.PartialSuccess
				}
				continue
			}
			return exitcode.IOError
		}
		out.Write(r.Data)
		out.Write([]byte{0})
	}

	return code
}

func codecFromHeader(hdr index.Header, passphrase string) (*codec.Context, error) {
	cctx := &codec.Context{Stack: hdr.CodecStack}

	if hdr.CodecStack.HasAES() {
		pass, err := config.ResolvePassphrase(passphrase)
		if err != nil {
			return nil, err
		}

		salt := hdr.Salt
		iterations := hdr.Iterations
		if len(salt) == 0 {
			// Legacy-KDF compatibility mode: the header declares no salt.
			salt = codec.LegacySalt
			iterations = codec.LegacyIterations
		}
		if iterations == 0 {
			iterations = config.DefaultIterations
		}

		key, err := codec.DeriveKey(pass, salt, iterations, hdr.AESBits)
		if err != nil {
			return nil, err
		}
		cctx.Key = key
	}

	return cctx, nil
}
