// Package logging is the logging seam of the server. Components take a
// Logger at construction and never reach for a global.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type Level int

const (
	Debug Level = iota
	Verbose
	Info
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Verbose:
		return "VERBOSE"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts the names printed by String, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return Debug, nil
	case "verbose":
		return Verbose, nil
	case "info", "":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("logging: unknown level %q", s)
}

// Logger is the minimal interface the server logs through.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// StdLogger adapts the standard library logger.
type StdLogger struct {
	L    *log.Logger
	Min  Level
	Pref string
}

// NewStdLogger logs to stderr at Info and above.
func NewStdLogger(prefix string) StdLogger {
	return StdLogger{L: log.New(os.Stderr, "", log.LstdFlags), Min: Info, Pref: prefix}
}

func (s StdLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil || level < s.Min {
		return
	}
	if s.Pref != "" {
		s.L.Printf("%s[%s] "+format, append([]interface{}{s.Pref, level.String()}, args...)...)
	} else {
		s.L.Printf("[%s] "+format, append([]interface{}{level.String()}, args...)...)
	}
}

// ZerologLogger adapts a zerolog.Logger.
type ZerologLogger struct {
	L zerolog.Logger
}

// NewZerologLogger builds a JSON logger, or a human readable console logger
// when console is set.
func NewZerologLogger(console bool, min Level) ZerologLogger {
	var l zerolog.Logger
	if console {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return ZerologLogger{L: l.Level(zerologLevel(min)).With().Timestamp().Logger()}
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Verbose:
		// zerolog has no level between debug and info.
		return zerolog.DebugLevel
	case Info:
		return zerolog.InfoLevel
	case Warning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (z ZerologLogger) Logf(level Level, format string, args ...interface{}) {
	ev := z.L.WithLevel(zerologLevel(level))
	if level == Verbose {
		ev = ev.Bool("verbose", true)
	}
	ev.Msgf(format, args...)
}
