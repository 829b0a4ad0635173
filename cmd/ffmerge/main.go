// Command ffmerge appends one (flatfile, index) pair onto another.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/g-insana/ffdb/internal/config"
	"github.com/g-insana/ffdb/internal/exitcode"
	"github.com/g-insana/ffdb/internal/logging"
	"github.com/g-insana/ffdb/internal/merger"
)

type cli struct {
	config.Common

	BaseFlatfile string `kong:"arg,help='Base flatfile',type='path'"`
	BaseIndex    string `kong:"arg,help='Base index',type='path'"`
	NewFlatfile  string `kong:"arg,help='New flatfile to append',type='path'"`
	NewIndex     string `kong:"arg,help='New index to merge in',type='path'"`

	Create bool `kong:"help='Write to .new siblings instead of merging in place'"`
	Small  bool `kong:"help='Load the new index fully into memory (best when it is small and the base is large)'"`
	Gzip   bool `kong:"help='Whole-file gzip the merged flatfile and build a sibling .gzi'"`
}

func main() {
	config.LoadDotEnv()

	var c cli
	kong.Parse(&c,
		kong.Name("ffmerge"),
		kong.Description("Merge a second (flatfile, index) pair into a base one"),
		kong.UsageOnError(),
		kong.DefaultEnvars(config.EnvVarPrefix),
	)

	logging.Setup(c.Debug)

	os.Exit(run(&c))
}

func run(c *cli) int {
	log := logrus.WithField("pkg", "ffmerge")

	paths := merger.Paths{
		BaseFlatfile: c.BaseFlatfile,
		BaseIndex:    c.BaseIndex,
		NewFlatfile:  c.NewFlatfile,
		NewIndex:     c.NewIndex,
	}

	total, err := merger.Merge(paths, merger.Options{
		Create: c.Create,
		Small:  c.Small,
		Gzip:   c.Gzip,
	})
	if err != nil {
		log.WithError(err).Error("merge failed")
		return exitcode.IOError
	}

	fmt.Printf("merged flatfile length: %d bytes\n", total)
	return exitcode.OK
}
