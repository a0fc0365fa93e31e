package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. Console progress goes to stdout, so
// logs stay on stderr.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.WarnLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// SetLogLevel parses and applies a level name (debug, info, warn, error).
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

func SetLogOutput(w io.Writer) { Logger.SetOutput(w) }

// SetJSONFormat switches to one JSON object per line for log shippers.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithDevice scopes log lines to one NetBox device.
func WithDevice(device string) *logrus.Entry {
	return Logger.WithField("device", device)
}

// WithKind scopes log lines to one object by kind and natural key.
func WithKind(kind, key string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{"kind": kind, "key": key})
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
