// Package monitor configures structured logging for the whole process.
package monitor

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a logrus logger for the configured output ("console",
// "file" or "both"). File output rotates via lumberjack.
func NewLogger(level, output, filePath string) *logrus.Logger {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch strings.ToLower(output) {
	case "file":
		log.SetOutput(rotatingFile(filePath))
	case "both":
		log.SetOutput(io.MultiWriter(os.Stdout, rotatingFile(filePath)))
	default:
		log.SetOutput(os.Stdout)
	}
	return log
}

func rotatingFile(path string) io.Writer {
	if path == "" {
		path = "data/dcapilot.log"
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}
