// Command ffrm deletes identifiers from a (flatfile, index) pair.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/g-insana/ffdb/internal/config"
	"github.com/g-insana/ffdb/internal/exitcode"
	"github.com/g-insana/ffdb/internal/index"
	"github.com/g-insana/ffdb/internal/logging"
	"github.com/g-insana/ffdb/internal/remover"
)

type cli struct {
	config.Common

	Flatfile string   `kong:"arg,help='Flatfile to remove entries from',type='path'"`
	IndexIn  string   `kong:"help='Index path (default: <flatfile>.idx)',short='x'"`
	Select   []string `kong:"help='Identifier to delete (repeatable)',short='s'"`

	Last bool `kong:"help='Delete only the last of duplicate records',short='z'"`
	All  bool `kong:"help='Delete every duplicate record',short='D'"`

	FlatOut  string `kong:"help='Output flatfile path (default: <flatfile>.new)',short='o'"`
	IndexOut string `kong:"help='Output index path (default: <index>.new)'"`
}

func main() {
	config.LoadDotEnv()

	var c cli
	kong.Parse(&c,
		kong.Name("ffrm"),
		kong.Description("Remove entries from a flatfile and its index"),
		kong.UsageOnError(),
		kong.DefaultEnvars(config.EnvVarPrefix),
	)

	logging.Setup(c.Debug)

	os.Exit(run(&c))
}

func run(c *cli) int {
	log := logrus.WithField("pkg", "ffrm")

	if c.IndexIn == "" {
		c.IndexIn = c.Flatfile + ".idx"
	}
	if c.FlatOut == "" {
		c.FlatOut = c.Flatfile + ".new"
	}
	if c.IndexOut == "" {
		c.IndexOut = c.IndexIn + ".new"
	}
	if len(c.Select) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one -s identifier is required")
		return exitcode.UsageError
	}

	store, err := index.Load(c.IndexIn)
	if err != nil {
		log.WithError(err).Error("loading index failed")
		return exitcode.IOError
	}

	policy := index.PolicyFirst
	switch {
	case c.All:
		policy = index.PolicyAll
	case c.Last:
		policy = index.PolicyLast
	}

	removed, err := remover.Remove(store, c.Flatfile, c.FlatOut, c.IndexOut, c.Select, remover.Options{
		Policy:  policy,
		Threads: c.Threads,
	})
	if err != nil {
		log.WithError(err).Error("remove failed")
		return exitcode.IOError
	}

	fmt.Printf("removed %d bytes\n", removed)
	return exitcode.OK
}
