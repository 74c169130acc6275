// Package logging configures logrus and bridges it to the tendermint logger interface
// expected by libs/service and libs/pubsub.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	tmlog "github.com/tendermint/tendermint/libs/log"
)

// Configure sets the global logrus level and formatter. Format is text or json.
func Configure(level, format string, out io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	log.SetLevel(lvl)

	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}

	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)
	return nil
}

type tmLogger struct {
	entry *log.Entry
}

// NewTMLogger wraps a logrus entry as a tendermint logger.
func NewTMLogger(entry *log.Entry) tmlog.Logger {
	return tmLogger{entry: entry}
}

func (l tmLogger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Debug(msg)
}

func (l tmLogger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Info(msg)
}

func (l tmLogger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals)).Error(msg)
}

func (l tmLogger) With(keyvals ...interface{}) tmlog.Logger {
	return tmLogger{entry: l.entry.WithFields(toFields(keyvals))}
}

func toFields(keyvals []interface{}) log.Fields {
	fields := make(log.Fields, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 < len(keyvals) {
			fields[key] = keyvals[i+1]
		} else {
			fields[key] = "(MISSING)"
		}
	}
	return fields
}
