package agent

import (
	"context"
	"errors"

	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
)

// Discussion roles accepted in the initial messages.
const (
	RoleTheme provider.Role = "theme"
	RoleGPT1  provider.Role = "gpt1"
	RoleGPT2  provider.Role = "gpt2"
)

const (
	defaultSupporter = "Please engage in the discussion as a supporter."
	defaultOpponent  = "Please engage in the discussion as a opponent."
)

// ErrNoTheme is returned when a discussion has nothing to discuss.
var ErrNoTheme = errors.New("the discuss mode must have a theme (or given by a message from the command line), gpt1, and gpt2 roles")

// Discuss lets two participants argue about a theme. Each has its own
// history starting with the theme and its role priming, both pinned. The
// user presses Enter to advance one turn.
type Discuss struct {
	// Names maps gpt1/gpt2 to display names.
	Names map[string]string

	bufs  [2]*session.Buffer
	names [2]string
	next  int
}

var _ Mode = (*Discuss)(nil)

func (d *Discuss) Name() string      { return "discuss" }
func (d *Discuss) Interactive() bool { return true }

func (d *Discuss) Start(r *Runner, msgs []provider.Message) error {
	theme, primings, err := splitDiscussion(msgs)
	if err != nil {
		return err
	}

	for i, key := range []string{"gpt1", "gpt2"} {
		d.names[i] = key
		if n := d.Names[key]; n != "" {
			d.names[i] = n
		}
		pinned := r.Normalize([]provider.Message{theme, primings[i]})
		d.bufs[i] = r.NewBuffer()
		for _, m := range pinned {
			d.bufs[i].AppendPinned(m)
		}
		if err := r.Guard().CheckAdmissible(d.bufs[i].PromptTokens()); err != nil {
			return err
		}
	}

	r.IO().SetNameWidth(max(len(d.names[0]), len(d.names[1])))
	r.IO().SystemMessage("Theme: " + theme.Content)
	return nil
}

// splitDiscussion turns theme/gpt1/gpt2 messages into system messages. Plain
// user and system messages extend the theme.
func splitDiscussion(msgs []provider.Message) (provider.Message, [2]provider.Message, error) {
	var (
		theme    provider.Message
		hasTheme bool
	)
	primings := [2]provider.Message{
		{Role: provider.RoleSystem, Content: defaultSupporter},
		{Role: provider.RoleSystem, Content: defaultOpponent},
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleTheme:
			theme, hasTheme = provider.Message{Role: provider.RoleSystem, Content: m.Content}, true
		case RoleGPT1:
			primings[0] = provider.Message{Role: provider.RoleSystem, Content: m.Content}
		case RoleGPT2:
			primings[1] = provider.Message{Role: provider.RoleSystem, Content: m.Content}
		case provider.RoleUser, provider.RoleSystem:
			if hasTheme {
				theme.Content += "\n" + m.Content
			} else {
				theme, hasTheme = provider.Message{Role: provider.RoleSystem, Content: m.Content}, true
			}
		}
	}
	if !hasTheme {
		return provider.Message{}, primings, ErrNoTheme
	}
	return theme, primings, nil
}

func (d *Discuss) Admit(_ context.Context, r *Runner) (bool, error) {
	if err := r.IO().WaitTurn(); err != nil {
		return true, err
	}
	return false, nil
}

func (d *Discuss) NextRequest(r *Runner) (*Turn, error) {
	buf := d.bufs[d.next]
	if err := evict(r, buf); err != nil {
		return nil, err
	}
	return &Turn{Buffer: buf, Speaker: d.names[d.next]}, nil
}

// HandleResponse keeps the reply in the speaker's history and hands it to the
// other participant as user input.
func (d *Discuss) HandleResponse(r *Runner, _ *Turn, reply *Reply) error {
	self, other := d.bufs[d.next], d.bufs[1-d.next]
	self.Append(reply.Message)
	other.Append(provider.Message{Role: provider.RoleUser, Content: reply.Message.Content})
	d.next = 1 - d.next

	if err := evict(r, self); err != nil {
		return err
	}
	return evict(r, other)
}
