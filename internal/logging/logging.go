package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. Console output goes to stderr at the
// requested level; when logFile is non-empty every event at debug and above is
// also appended there so a failed run can be diagnosed afterwards.
func Setup(level string, debug bool, logFile string) io.Closer {
	consoleLevel := ParseLevel(level)
	if debug {
		consoleLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(min(consoleLevel, zerolog.DebugLevel))

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}
	writers := []io.Writer{&zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: console},
		Level:  consoleLevel,
	}}

	var closer io.Closer = nopCloser{}
	var fileErr error
	if logFile != "" {
		f, err := openLogFile(logFile)
		if err != nil {
			fileErr = err
		} else {
			writers = append(writers, f)
			closer = f
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	if debug {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", logFile).Msg("Failed to open log file, logging to console only")
	}
	log.Debug().Str("level", consoleLevel.String()).Str("logFile", logFile).Msg("Logger initialized")
	return closer
}

// ParseLevel maps LOG_LEVEL values to zerolog levels, defaulting to warn.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// For returns a logger tagged with the component name.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
