package tui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxPipeLine is the longest input line accepted from a pipe.
const maxPipeLine = 1 << 20

// pipeReader feeds PlainIO from a non-terminal stdin, e.g. `cg chat < questions.txt`.
// Each line read is echoed after its prompt so stdout reads as a transcript.
type pipeReader struct {
	scanner *bufio.Scanner
	echo    io.Writer
}

func newPipeReader(r io.Reader, echo io.Writer) *pipeReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxPipeLine)
	return &pipeReader{scanner: s, echo: echo}
}

func (p *pipeReader) Prompt(prompt string) (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", io.EOF
	}
	line := strings.TrimRight(p.scanner.Text(), "\r")
	if prompt != "" {
		fmt.Fprintf(p.echo, "%s%s\n", prompt, line)
	}
	return line, nil
}

func (p *pipeReader) AppendHistory(string) {}
func (p *pipeReader) Close() error         { return nil }
