// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxSnippet bounds how much of a chat message body reaches the log.
const maxSnippet = 80

// Init sets the global level and routes output through a console writer on
// stderr. level is one of debug, info, warn, error (default: info).
func Init(level string) {
	InitWriter(level, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(level string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05"})
}

// ParseLevel maps a config string to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Snippet shortens a message body for logging.
func Snippet(body string) string {
	body = strings.ReplaceAll(body, "\n", " ")
	r := []rune(body)
	if len(r) <= maxSnippet {
		return body
	}
	return string(r[:maxSnippet-3]) + "..."
}
