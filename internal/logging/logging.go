// Package logging wires up logrus with a plain text formatter and a
// level bumped under --debug, nothing fancier.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Setup configures the default logrus logger for one of FFDB's binaries.
func Setup(debug bool) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("debug logging enabled")
		return
	}

	logrus.SetLevel(logrus.InfoLevel)
}
