package obs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields carries structured key/value pairs attached to a log event.
type Fields = log.Fields

// Init configures the global logger. An empty path or "console" logs to stdout,
// anything else is treated as a file path rotated by lumberjack.
func Init(level, path string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	var out io.Writer = os.Stdout
	if path != "" && path != "console" {
		out = &lumberjack.Logger{
			Filename:   filepath.ToSlash(path),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	log.SetOutput(out)
	log.SetFormatter(&log.JSONFormatter{
		FieldMap: log.FieldMap{log.FieldKeyTime: "ts"},
	})
	log.SetLevel(lvl)
	return nil
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) {
	if v {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

func Info(msg string, f Fields)  { log.WithFields(f).Info(msg) }
func Error(msg string, f Fields) { log.WithFields(f).Error(msg) }
func Debug(msg string, f Fields) { log.WithFields(f).Debug(msg) }

// SetOutput redirects log output, for tools that reserve stdout for data.
func SetOutput(w io.Writer) { log.SetOutput(w) }
