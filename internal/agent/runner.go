// Package agent runs a chat session: a Runner drives one Mode (ask, chat or
// discuss) through the budget guard, the conversation buffers and the
// completion provider, and accumulates the session cost.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apexion-ai/cg/internal/catalog"
	"github.com/apexion-ai/cg/internal/ledger"
	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
	"github.com/apexion-ai/cg/internal/tokens"
	"github.com/apexion-ai/cg/internal/tui"
)

// Farewell is the assistant line printed when an interactive session ends.
const Farewell = "Bye!"

// Mode is the turn-loop policy of a session.
type Mode interface {
	// Name is recorded with every request, e.g. "chat".
	Name() string

	// Interactive modes stream replies and end with the farewell line.
	Interactive() bool

	// Start builds the buffers from the initial messages and validates them.
	// Nothing has been sent yet, so every error here is fatal.
	Start(r *Runner, msgs []provider.Message) error

	// Admit waits for the next input. It returns done when the session
	// should end without another request.
	Admit(ctx context.Context, r *Runner) (done bool, err error)

	// NextRequest returns the buffer to send and who replies.
	NextRequest(r *Runner) (*Turn, error)

	// HandleResponse records the reply.
	HandleResponse(r *Runner, t *Turn, reply *Reply) error
}

// Turn is one request.
type Turn struct {
	Buffer *session.Buffer
	// Speaker is the display name of the reply; empty means the assistant alias.
	Speaker string
}

// Reply is the outcome of one request.
type Reply struct {
	Message          provider.Message
	FinishReason     provider.FinishReason
	PromptTokens     int
	CompletionTokens int
	MaxTokens        int
	// Partial is set when the request was interrupted mid-reply.
	Partial bool
}

// UsageRecorder persists one row per request. *ledger.UsageStore implements it.
type UsageRecorder interface {
	Record(ctx context.Context, r ledger.Record) error
}

// Options configures a Runner.
type Options struct {
	Sampling provider.Sampling
	// Alias maps roles to display names.
	Alias map[string]string
	// Usage, when set, receives a record for every request.
	Usage UsageRecorder
}

// Runner drives one session.
type Runner struct {
	provider  provider.Provider
	counter   *tokens.Counter
	guard     *session.Guard
	profile   catalog.Profile
	io        tui.IO
	sampling  provider.Sampling
	alias     map[string]string
	usage     UsageRecorder
	cost      *CostTracker
	sessionID string
}

// New creates a Runner for one resolved model.
func New(p provider.Provider, counter *tokens.Counter, guard *session.Guard, profile catalog.Profile, ui tui.IO, opts Options) *Runner {
	alias := tui.DefaultAlias()
	for k, v := range opts.Alias {
		alias[k] = v
	}
	return &Runner{
		provider:  p,
		counter:   counter,
		guard:     guard,
		profile:   profile,
		io:        ui,
		sampling:  opts.Sampling,
		alias:     alias,
		usage:     opts.Usage,
		cost:      NewCostTracker(profile.PromptPricePerK, profile.CompletionPricePerK),
		sessionID: uuid.NewString(),
	}
}

// SessionID identifies this run in the usage history.
func (r *Runner) SessionID() string { return r.sessionID }

// Cost returns the cost tracker of this run.
func (r *Runner) Cost() *CostTracker { return r.cost }

// Guard returns the budget guard.
func (r *Runner) Guard() *session.Guard { return r.guard }

// IO returns the user interface.
func (r *Runner) IO() tui.IO { return r.io }

// Counter returns the token counter.
func (r *Runner) Counter() *tokens.Counter { return r.counter }

// NewBuffer returns an empty buffer sized by the runner's counter.
func (r *Runner) NewBuffer() *session.Buffer { return session.NewBuffer(r.counter) }

// Normalize applies the model's role rules: models that reject the system
// role get those messages as user messages.
func (r *Runner) Normalize(msgs []provider.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	if !r.profile.SystemAsUser {
		return out
	}
	for i := range out {
		if out[i].Role == provider.RoleSystem {
			out[i].Role = provider.RoleUser
		}
	}
	return out
}

// DisplayName is the name shown for msg: its name if set, else the role alias.
func (r *Runner) DisplayName(msg provider.Message) string {
	if msg.Name != "" {
		return msg.Name
	}
	return r.RoleName(msg.Role)
}

// RoleName returns the alias of role, or the role itself.
func (r *Runner) RoleName(role provider.Role) string {
	if a, ok := r.alias[string(role)]; ok {
		return a
	}
	return string(role)
}

// Run executes mode with the initial messages and returns the estimated
// cost. User cancellation ends the session normally.
func (r *Runner) Run(ctx context.Context, mode Mode, msgs []provider.Message) (float64, error) {
	if !r.counter.Supported() {
		r.io.Warn(fmt.Sprintf("Model %s is not a known model family; token counts use the %s constants.",
			r.profile.ID, r.counter.Family().Name))
	}
	if err := mode.Start(r, msgs); err != nil {
		return 0, err
	}

	err := r.loop(ctx, mode)
	if err != nil && !isCancel(ctx, err) {
		return r.cost.SessionCost(), err
	}
	if mode.Interactive() {
		r.io.Message(r.RoleName(provider.RoleAssistant), Farewell)
	}
	slog.Debug("session finished", slog.String("session", r.sessionID), slog.String("mode", mode.Name()),
		slog.Int("requests", len(r.cost.Turns())), slog.String("cost", r.cost.Summary()))
	return r.cost.SessionCost(), nil
}

func (r *Runner) loop(ctx context.Context, mode Mode) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := mode.Admit(ctx, r)
		if errors.Is(err, io.EOF) || errors.Is(err, tui.ErrInterrupted) {
			return context.Canceled
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		turn, err := mode.NextRequest(r)
		if err != nil {
			return err
		}
		reply, err := r.request(ctx, mode, turn)
		if err != nil {
			return err
		}
		if reply.Partial {
			return context.Canceled
		}
		if err := mode.HandleResponse(r, turn, reply); err != nil {
			return err
		}
	}
}

// request sends the buffer of t, streaming in interactive modes, then warns
// about the finish reason and accrues the cost.
func (r *Runner) request(ctx context.Context, mode Mode, t *Turn) (*Reply, error) {
	prompt := t.Buffer.PromptTokens()
	if err := r.guard.CheckAdmissible(prompt); err != nil {
		return nil, err
	}
	req := &provider.ChatRequest{
		Model:     r.profile.ID,
		Messages:  t.Buffer.Messages(),
		MaxTokens: r.guard.AllowedCompletionTokens(prompt),
		Sampling:  r.sampling,
	}
	slog.Debug("request", slog.String("mode", mode.Name()), slog.Int("messages", len(req.Messages)),
		slog.Int("prompt_tokens", prompt), slog.Int("max_tokens", req.MaxTokens))

	var (
		reply *Reply
		err   error
	)
	if mode.Interactive() {
		reply, err = r.stream(ctx, req, t)
	} else {
		reply, err = r.complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	reply.MaxTokens = req.MaxTokens
	if mode.Interactive() {
		reply.PromptTokens = prompt
	}

	if !reply.Partial {
		r.warnFinish(reply)
	}
	cost := r.cost.RecordTurn(reply.PromptTokens, reply.CompletionTokens)
	r.record(ctx, mode, reply, cost)
	return reply, nil
}

// complete performs a blocking request. Token usage comes from the response.
func (r *Runner) complete(ctx context.Context, req *provider.ChatRequest) (*Reply, error) {
	c, err := r.provider.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	reply := &Reply{Message: c.Message, FinishReason: c.FinishReason}
	if c.Usage != nil {
		reply.PromptTokens = c.Usage.PromptTokens
		reply.CompletionTokens = c.Usage.CompletionTokens
	} else {
		r.io.Warn("API response does not have usage information")
	}
	return reply, nil
}

// stream writes the reply to the raw sink as it arrives. The sink is
// released before any warning is printed and on every return path.
func (r *Runner) stream(ctx context.Context, req *provider.ChatRequest, t *Turn) (*Reply, error) {
	events, err := r.provider.Stream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	sink, release := r.io.AcquireRaw()
	defer release()

	var (
		content   strings.Builder
		role      = provider.RoleAssistant
		announced bool
		finish    provider.FinishReason
		streamErr error
	)
	announce := func() {
		if announced {
			return
		}
		announced = true
		name := t.Speaker
		if name == "" {
			name = r.RoleName(role)
		}
		sink.Speaker(name)
	}
	for ev := range events {
		switch ev.Type {
		case provider.EventRole:
			if ev.Role != "" {
				role = ev.Role
			}
			announce()
		case provider.EventTextDelta:
			announce()
			io.WriteString(sink, ev.TextDelta)
			content.WriteString(ev.TextDelta)
		case provider.EventDone:
			finish = ev.FinishReason
		case provider.EventError:
			streamErr = ev.Error
		}
	}
	release()

	// Replies are stored without the speaker name; the API rejects names
	// outside [a-zA-Z0-9_-].
	msg := provider.Message{Role: role, Content: content.String()}
	reply := &Reply{
		Message:          msg,
		FinishReason:     finish,
		CompletionTokens: r.counter.CountMessage(msg, true),
	}
	if streamErr != nil {
		if ctx.Err() != nil || errors.Is(streamErr, context.Canceled) {
			reply.Partial = true
			return reply, nil
		}
		return nil, streamErr
	}
	return reply, nil
}

func (r *Runner) warnFinish(reply *Reply) {
	switch reply.FinishReason {
	case provider.FinishStop:
	case provider.FinishLength:
		r.io.Warn("The reply was truncated due to the tokens limit: " + r.truncationReason(reply))
	case provider.FinishContentFilter:
		r.io.Warn("The reply was omitted due to the content filters.")
	case provider.FinishNone:
		r.io.Warn("API response is incomplete")
	default:
		r.io.Warn(fmt.Sprintf("Unknown finish reason: %s", reply.FinishReason))
	}
}

// truncationReason says whether the cap was the explicit setting or computed
// from the prompt size.
func (r *Runner) truncationReason(reply *Reply) string {
	if r.guard.Override() > 0 {
		return fmt.Sprintf("max_output_tokens for completion = %d.", reply.MaxTokens)
	}
	return fmt.Sprintf("max_output_tokens for completion = %d (prompt tokens: %d, context_window: %d, minimum of output tokens: %d).",
		reply.MaxTokens, reply.PromptTokens, r.guard.ContextWindow(), r.guard.MinOutputTokens())
}

func (r *Runner) record(ctx context.Context, mode Mode, reply *Reply, cost float64) {
	if r.usage == nil {
		return
	}
	rec := ledger.Record{
		SessionID:        r.sessionID,
		CreatedAt:        time.Now(),
		Mode:             mode.Name(),
		Model:            r.profile.ID,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Cost:             cost,
		FinishReason:     string(reply.FinishReason),
	}
	if err := r.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("failed to record usage", slog.Any("error", err))
	}
}

// isCancel reports whether err is the user ending the session.
func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
