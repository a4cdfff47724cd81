package logger

import (
	"os"

	logger "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// L is the process wide logger used when a component is not given its own.
var L = &logger.Logger{
	Out:   os.Stderr,
	Level: logger.InfoLevel,
	Hooks: make(logger.LevelHooks),
	Formatter: &prefixed.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	},
}

// For returns an entry tagged with the given component name. The prefixed
// formatter prints the "prefix" field in front of the message.
func For(l logger.FieldLogger, component string) logger.FieldLogger {
	if l == nil {
		l = L
	}
	return l.WithField("prefix", component)
}
