// Package logging provides a small leveled logger shared across drivefs.
package logging

import (
	"log"
	"strings"
)

// LogLevel orders log verbosity from most to least chatty.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Level is the active log level. Defaults to LevelInfo.
var Level = LevelInfo

// DebugLogs enables debug output regardless of Level. SetLevel keeps it
// equal to Level == LevelDebug.
var DebugLogs = false

// ParseLevel parses a level name (case-insensitive). Unknown or empty
// input defaults to LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// SetLevel sets the active level and derives DebugLogs from it.
func SetLevel(l LogLevel) {
	Level = l
	DebugLogs = l == LevelDebug
}

func Debugf(format string, args ...any) {
	if DebugLogs || Level <= LevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func Infof(format string, args ...any) {
	if Level <= LevelInfo {
		log.Printf("[INFO] "+format, args...)
	}
}

func Warnf(format string, args ...any) {
	if Level <= LevelWarn {
		log.Printf("[WARN] "+format, args...)
	}
}

func Errorf(format string, args ...any) {
	if Level <= LevelError {
		log.Printf("[ERROR] "+format, args...)
	}
}
