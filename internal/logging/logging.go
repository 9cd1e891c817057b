// Package logging builds the process logger from configuration.
//
// Long-lived components take a *logrus.Entry through their options and fall
// back to Nop when none is supplied, so tests stay quiet by default.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/config"
)

// New returns a logger configured for level and format. Unknown levels fall
// back to info.
func New(cfg config.Logging) *logrus.Logger {
	return newWithOutput(cfg, os.Stderr)
}

func newWithOutput(cfg config.Logging, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Nop returns an entry that discards everything below panic.
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// OrNop returns entry, or a no-op entry when entry is nil.
func OrNop(entry *logrus.Entry) *logrus.Entry {
	if entry == nil {
		return Nop()
	}
	return entry
}

// Printf adapts an entry to the Printf-style logger interfaces used by cron.
type Printf struct {
	Entry *logrus.Entry
	Level logrus.Level
}

func (p Printf) Printf(format string, args ...any) {
	p.Entry.Logf(p.Level, format, args...)
}

// Info and Error satisfy cron.Logger.
func (p Printf) Info(msg string, keysAndValues ...any) {
	p.Entry.WithFields(pairs(keysAndValues)).Info(msg)
}

func (p Printf) Error(err error, msg string, keysAndValues ...any) {
	p.Entry.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

// KV adapts an entry to loggers that pass a message followed by key/value
// pairs to both levels, as backlite does.
type KV struct {
	Entry *logrus.Entry
}

func (l KV) Info(msg string, keysAndValues ...any) {
	l.Entry.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l KV) Error(msg string, keysAndValues ...any) {
	l.Entry.WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
