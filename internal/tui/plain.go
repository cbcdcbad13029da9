package tui

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/peterh/liner"
)

// lineReader is the part of *liner.State PlainIO uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// Options configures PlainIO.
type Options struct {
	Colors map[string]string
	Alias  map[string]string
	// Color enables styled names; callers set it when stdout is a terminal.
	Color bool
	// Multiline collects input lines until an empty line.
	Multiline bool
	// Input enables the line editor. Without it every read returns io.EOF.
	Input bool
	// Pipe reads input lines from stdin without the line editor; callers set
	// it when stdin is not a terminal.
	Pipe bool
}

// PlainIO implements IO on a plain terminal: liner for input, stdout for
// output, stderr for warnings.
type PlainIO struct {
	out    io.Writer
	errOut io.Writer
	line   lineReader
	style  *Styler
	multi  bool

	mu  sync.Mutex
	raw *plainSink
}

// NewPlainIO creates a PlainIO reading from the terminal. Close restores the
// terminal mode.
func NewPlainIO(opts Options) *PlainIO {
	var line lineReader = noInput{}
	switch {
	case opts.Input && opts.Pipe:
		line = newPipeReader(os.Stdin, os.Stdout)
	case opts.Input:
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)
		line = l
	}
	return newPlainIO(os.Stdout, os.Stderr, line, NewStyler(opts.Colors, opts.Alias, opts.Color), opts.Multiline)
}

type noInput struct{}

func (noInput) Prompt(string) (string, error) { return "", io.EOF }
func (noInput) AppendHistory(string)          {}
func (noInput) Close() error                  { return nil }

func newPlainIO(out, errOut io.Writer, line lineReader, style *Styler, multi bool) *PlainIO {
	return &PlainIO{out: out, errOut: errOut, line: line, style: style, multi: multi}
}

// Close releases the terminal.
func (p *PlainIO) Close() error {
	return p.line.Close()
}

func (p *PlainIO) ReadInput(name string) (string, error) {
	prompt := p.style.PlainPrefix(name)
	if !p.multi {
		text, err := p.prompt(prompt)
		if err != nil {
			return "", err
		}
		p.line.AppendHistory(text)
		return text, nil
	}

	var lines []string
	for {
		text, err := p.prompt(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) && len(lines) > 0 {
				break
			}
			return "", err
		}
		if text == "" {
			break
		}
		lines = append(lines, text)
		prompt = strings.Repeat(" ", p.style.Width()+2)
	}
	joined := strings.Join(lines, "\n")
	p.line.AppendHistory(joined)
	return joined, nil
}

func (p *PlainIO) WaitTurn() error {
	_, err := p.prompt("")
	return err
}

func (p *PlainIO) prompt(prompt string) (string, error) {
	text, err := p.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrInterrupted
	}
	return text, err
}

func (p *PlainIO) SetNameWidth(n int) {
	p.style.SetWidth(n)
}

func (p *PlainIO) Message(name, content string) {
	fmt.Fprintf(p.out, "%s%s\n", p.style.Prefix(name), content)
}

func (p *PlainIO) SystemMessage(text string) {
	fmt.Fprintln(p.out, text)
}

func (p *PlainIO) Warn(text string) {
	fmt.Fprintf(p.errOut, "warning: %s\n", text)
}

func (p *PlainIO) AcquireRaw() (RawSink, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.raw == nil {
		p.raw = &plainSink{out: p.out, style: p.style, atLineStart: true}
	}
	sink := p.raw
	var once sync.Once
	return sink, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			sink.finish()
			p.raw = nil
		})
	}
}

// plainSink writes streamed fragments as-is and terminates the last line on release.
type plainSink struct {
	out         io.Writer
	style       *Styler
	atLineStart bool
}

func (s *plainSink) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := s.out.Write(b)
	if n > 0 {
		s.atLineStart = bytes.HasSuffix(b[:n], []byte("\n"))
	}
	return n, err
}

func (s *plainSink) Speaker(name string) {
	if !s.atLineStart {
		s.Write([]byte("\n"))
	}
	s.Write([]byte(s.style.Prefix(name)))
}

func (s *plainSink) finish() {
	if !s.atLineStart {
		s.Write([]byte("\n"))
	}
}
