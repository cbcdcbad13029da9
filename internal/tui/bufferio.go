package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// BufferIO is a silent IO implementation that replays scripted input and
// captures all output without rendering to any terminal.
type BufferIO struct {
	mu       sync.Mutex
	inputs   []string
	buf      strings.Builder
	warnings []string
	width    int

	// Released counts raw sink releases; Acquired counts acquisitions.
	Acquired int
	Released int
}

var _ IO = (*BufferIO)(nil)

// Interrupt is a scripted input that makes ReadInput or WaitTurn return ErrInterrupted.
const Interrupt = "\x03"

// NewBufferIO creates a BufferIO that answers input requests from inputs in
// order, then returns io.EOF.
func NewBufferIO(inputs ...string) *BufferIO {
	return &BufferIO{inputs: inputs, width: MinNameWidth}
}

// Output returns all captured output.
func (b *BufferIO) Output() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Warnings returns the captured warnings in order.
func (b *BufferIO) Warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.warnings...)
}

func (b *BufferIO) next() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inputs) == 0 {
		return "", io.EOF
	}
	in := b.inputs[0]
	b.inputs = b.inputs[1:]
	if in == Interrupt {
		return "", ErrInterrupted
	}
	return in, nil
}

func (b *BufferIO) ReadInput(_ string) (string, error) { return b.next() }

func (b *BufferIO) WaitTurn() error {
	_, err := b.next()
	return err
}

func (b *BufferIO) SetNameWidth(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = max(n, MinNameWidth)
}

// NameWidth returns the last width set.
func (b *BufferIO) NameWidth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

func (b *BufferIO) Message(name, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(&b.buf, "%s> %s\n", name, content)
}

func (b *BufferIO) SystemMessage(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(text + "\n")
}

func (b *BufferIO) Warn(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, text)
}

func (b *BufferIO) AcquireRaw() (RawSink, func()) {
	b.mu.Lock()
	b.Acquired++
	b.mu.Unlock()
	var once sync.Once
	return bufferSink{b}, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.Released++
			b.buf.WriteString("\n")
		})
	}
}

type bufferSink struct{ b *BufferIO }

func (s bufferSink) Write(p []byte) (int, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.buf.Write(p)
}

func (s bufferSink) Speaker(name string) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.buf.WriteString(name + "> ")
}
