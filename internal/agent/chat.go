package agent

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
	"github.com/apexion-ai/cg/internal/tokens"
)

// DefaultExitCommands end a chat when entered alone on a line.
var DefaultExitCommands = []string{"bye", "bye!", "exit", "quit"}

// Chat alternates between user input and streamed replies. History is
// evicted oldest first to keep room for the next reply.
type Chat struct {
	// ExitCommands are compared case-insensitively; nil means DefaultExitCommands.
	ExitCommands []string

	buf *session.Buffer
}

var _ Mode = (*Chat)(nil)

func (c *Chat) Name() string      { return "chat" }
func (c *Chat) Interactive() bool { return true }

func (c *Chat) Start(r *Runner, msgs []provider.Message) error {
	msgs = r.Normalize(msgs)
	c.buf = r.NewBuffer()
	width := max(len(r.RoleName(provider.RoleUser)), len(r.RoleName(provider.RoleAssistant)))
	for _, m := range msgs {
		c.buf.Append(m)
		width = max(width, len(r.DisplayName(m)))
	}
	if err := r.Guard().CheckAdmissible(c.buf.PromptTokens()); err != nil {
		return err
	}

	r.IO().SetNameWidth(width)
	for _, m := range msgs {
		r.IO().Message(r.DisplayName(m), m.Content)
	}
	return nil
}

// Admit reads input until the user sends a message that fits. Input too
// long to ever fit is refused with a warning and the user is asked again.
func (c *Chat) Admit(ctx context.Context, r *Runner) (bool, error) {
	for {
		text, err := r.IO().ReadInput(r.RoleName(provider.RoleUser))
		if err != nil {
			return true, err
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if c.isExit(text) {
			return true, nil
		}

		msg := provider.Message{Role: provider.RoleUser, Content: text}
		if r.Counter().CountMessage(msg, false)+tokens.ReplyPriming > r.Guard().EvictionLimit() {
			r.IO().Warn("Input is too long, try shorter.")
			continue
		}
		c.buf.Append(msg)
		return false, nil
	}
}

func (c *Chat) NextRequest(r *Runner) (*Turn, error) {
	if err := evict(r, c.buf); err != nil {
		return nil, err
	}
	return &Turn{Buffer: c.buf}, nil
}

func (c *Chat) HandleResponse(r *Runner, _ *Turn, reply *Reply) error {
	c.buf.Append(reply.Message)
	return evict(r, c.buf)
}

func (c *Chat) isExit(text string) bool {
	cmds := c.ExitCommands
	if cmds == nil {
		cmds = DefaultExitCommands
	}
	text = strings.ToLower(strings.TrimSpace(text))
	return slices.ContainsFunc(cmds, func(cmd string) bool {
		return strings.ToLower(cmd) == text
	})
}

// evict trims buf so its prompt leaves room for the completion floor.
func evict(r *Runner, buf *session.Buffer) error {
	n, err := buf.EvictOldestUntil(r.Guard().EvictionLimit())
	if n > 0 {
		slog.Debug("evicted history", slog.Int("messages", n), slog.Int("remaining", buf.Len()),
			slog.Int("prompt_tokens", buf.PromptTokens()))
	}
	return err
}
