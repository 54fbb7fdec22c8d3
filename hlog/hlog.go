// Package hlog is Hypersonic's ambient structured-logging wiring. Every
// component that can fail, block, or drop work logs through a *Logger
// rather than fmt.Println/log.Printf, mirroring the teacher's own
// package-level structured Logger (eventloop/logging.go) but wired to a
// real ecosystem logging stack instead of a hand-rolled formatter:
// github.com/joeycumines/logiface as the generic front end and
// github.com/joeycumines/izerolog + github.com/rs/zerolog as the backend.
package hlog

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the type every Hypersonic package logs through.
type Logger = logiface.Logger[*izerolog.Event]

// New builds a Logger writing pretty-printed, colorized output to stderr
// when attached to a terminal and newline-delimited JSON otherwise,
// matching zerolog's own ConsoleWriter-vs-raw-JSON convention.
func New() *Logger {
	return NewWithWriter(defaultWriter())
}

// NewWithWriter builds a Logger writing to an arbitrary zerolog writer,
// useful for tests that want to assert on log output.
func NewWithWriter(w zerolog.Logger) *Logger {
	return logiface.New[*izerolog.Event](izerolog.L.WithZerolog(w))
}

// Discard builds a Logger that drops every event, for tests and benchmarks
// that don't want logging overhead or output noise.
func Discard() *Logger {
	return NewWithWriter(zerolog.Nop())
}

func defaultWriter() zerolog.Logger {
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
