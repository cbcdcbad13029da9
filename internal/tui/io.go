// Package tui defines the IO contract between the session runner and the
// terminal, plus PlainIO, the line-oriented implementation.
package tui

import (
	"errors"
	"io"
)

// ErrInterrupted is returned by input methods when the user presses Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// IO is the contract between the session runner and the UI layer.
type IO interface {
	// ReadInput blocks until the user submits input, prompting with the
	// speaker name. Returns ("", io.EOF) at end of input and
	// ("", ErrInterrupted) on Ctrl-C.
	ReadInput(name string) (string, error)

	// WaitTurn blocks until the user presses Enter. Same errors as ReadInput.
	WaitTurn() error

	// SetNameWidth sets the column the speaker names are right-aligned to.
	SetNameWidth(n int)

	// Message prints a complete "name> content" line.
	Message(name, content string)

	// SystemMessage prints a plain notice.
	SystemMessage(text string)

	// Warn prints a recoverable problem.
	Warn(text string)

	// AcquireRaw hands out the sink streamed output is written to. Lines
	// written through it are not terminated automatically; release restores
	// line-oriented output and may be called more than once.
	AcquireRaw() (sink RawSink, release func())
}

// RawSink receives streamed output.
type RawSink interface {
	io.Writer

	// Speaker writes the "name> " prefix of a reply.
	Speaker(name string)
}
