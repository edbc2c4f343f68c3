// Package logging wraps log/slog behind an injectable-callback, not a
// global, idiom: components take a *slog.Logger (or an OnError func) at
// construction time instead of reaching for a package-level logger.
package logging

import (
	"io"
	"log/slog"
)

// New builds a JSON-structured logger at the given level. Level defaults
// to slog.LevelInfo for an empty string.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// OnError adapts a *slog.Logger into the meshtap: error callback shape
// passed to internal/collector's NewPipeline/NewServer and
// internal/ruleloader's NewLoader. Never logs capture bytes —
// only the error string and whatever structured fields the caller adds.
func OnError(log *slog.Logger) func(error) {
	return func(err error) {
		if err == nil {
			return
		}
		log.Error(err.Error())
	}
}
