// Package clilog provides a small leveled logger for the segmapctl CLI.
package clilog

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level mirrors the handful of severities the CLI actually distinguishes.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// ParseLevel maps a flag/env string ("debug", "info", "warn", "error") to
// a Level, defaulting to Info on anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Logger is a minimal leveled logger, grounded on dKV's rpc/common
// dKVLogger: a fixed-width level tag, a name, and a level gate, but
// without dragonboat's ILogger interface since this CLI has nothing to
// adapt to.
type Logger struct {
	name  string
	level Level
	out   *log.Logger
}

// New returns a Logger that writes to stderr with the given name and
// minimum level.
func New(name string, level Level) *Logger {
	return &Logger{name: name, level: level, out: log.New(os.Stderr, "", log.Ldate|log.Ltime)}
}

func (l *Logger) Debugf(format string, args ...any) { l.logAt(Debug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logAt(Info, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logAt(Warn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logAt(Error, "ERROR", format, args...) }

func (l *Logger) logAt(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Printf("%-5s | %-12s | %s", tag, l.name, fmt.Sprintf(format, args...))
}
