package agent

import (
	"context"

	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
)

// Ask sends the messages once and prints the reply.
type Ask struct {
	// Show prints the prompt messages and prefixes the reply with the speaker.
	Show bool

	buf  *session.Buffer
	sent bool
}

var _ Mode = (*Ask)(nil)

func (a *Ask) Name() string      { return "ask" }
func (a *Ask) Interactive() bool { return false }

func (a *Ask) Start(r *Runner, msgs []provider.Message) error {
	msgs = r.Normalize(msgs)
	a.buf = r.NewBuffer()
	width := 0
	for _, m := range msgs {
		a.buf.Append(m)
		width = max(width, len(r.DisplayName(m)))
	}
	if err := r.Guard().CheckAdmissible(a.buf.PromptTokens()); err != nil {
		return err
	}

	if a.Show {
		width = max(width, len(r.RoleName(provider.RoleAssistant)))
	}
	r.IO().SetNameWidth(width)
	if a.Show {
		for _, m := range msgs {
			r.IO().Message(r.DisplayName(m), m.Content)
		}
	}
	return nil
}

func (a *Ask) Admit(_ context.Context, _ *Runner) (bool, error) {
	if a.sent {
		return true, nil
	}
	a.sent = true
	return false, nil
}

func (a *Ask) NextRequest(_ *Runner) (*Turn, error) {
	return &Turn{Buffer: a.buf}, nil
}

func (a *Ask) HandleResponse(r *Runner, _ *Turn, reply *Reply) error {
	a.buf.Append(reply.Message)
	if a.Show {
		r.IO().Message(r.DisplayName(reply.Message), reply.Message.Content)
		return nil
	}
	r.IO().SystemMessage(reply.Message.Content)
	return nil
}
