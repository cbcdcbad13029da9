package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexion-ai/cg/internal/catalog"
	"github.com/apexion-ai/cg/internal/ledger"
	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/session"
	"github.com/apexion-ai/cg/internal/tokens"
	"github.com/apexion-ai/cg/internal/tui"
)

// wordEncoding counts whitespace-separated words, so "hi" is one token.
type wordEncoding struct{}

func (wordEncoding) TokenLen(text string) int { return len(strings.Fields(text)) }

// scriptedReply is one canned provider answer.
type scriptedReply struct {
	chunks []string
	finish provider.FinishReason
	usage  *provider.Usage
	// err is sent after the chunks; for Complete it is returned instead.
	err error
}

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []*provider.ChatRequest
}

func (p *scriptedProvider) next(req *provider.ChatRequest) scriptedReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return scriptedReply{chunks: []string{"(no more replies)"}, finish: provider.FinishStop}
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r
}

func (p *scriptedProvider) Complete(_ context.Context, req *provider.ChatRequest) (*provider.Completion, error) {
	r := p.next(req)
	if r.err != nil {
		return nil, r.err
	}
	return &provider.Completion{
		Message:      provider.Message{Role: provider.RoleAssistant, Content: strings.Join(r.chunks, "")},
		FinishReason: r.finish,
		Usage:        r.usage,
	}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, req *provider.ChatRequest) (<-chan provider.Event, error) {
	r := p.next(req)
	ch := make(chan provider.Event, len(r.chunks)+2)
	ch <- provider.Event{Type: provider.EventRole, Role: provider.RoleAssistant}
	for _, c := range r.chunks {
		ch <- provider.Event{Type: provider.EventTextDelta, TextDelta: c}
	}
	if r.err != nil {
		ch <- provider.Event{Type: provider.EventError, Error: r.err}
	} else {
		ch <- provider.Event{Type: provider.EventDone, FinishReason: r.finish, Usage: r.usage}
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Requests() []*provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*provider.ChatRequest(nil), p.requests...)
}

type memUsage struct {
	mu   sync.Mutex
	recs []ledger.Record
}

func (m *memUsage) Record(_ context.Context, r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

type testSetup struct {
	model          string
	window, minOut int
	override       int
	systemAsUser   bool
	usage          UsageRecorder
}

func newTestRunner(t *testing.T, p provider.Provider, ui tui.IO, s testSetup) *Runner {
	t.Helper()
	if s.model == "" {
		s.model = "gpt-4"
	}
	if s.window == 0 {
		s.window = 1000
	}
	counter, err := tokens.NewCounter(s.model, wordEncoding{}, tokens.FallbackDefault)
	require.NoError(t, err)
	profile := catalog.Profile{
		ID:                  s.model,
		ContextWindow:       s.window,
		MaxOutputTokens:     s.window,
		PromptPricePerK:     0.001,
		CompletionPricePerK: 0.002,
		SystemAsUser:        s.systemAsUser,
	}
	guard := session.NewGuard(s.window, s.window, s.minOut, s.override)
	return New(p, counter, guard, profile, ui, Options{Usage: s.usage})
}

func userMsg(content string) provider.Message {
	return provider.Message{Role: provider.RoleUser, Content: content}
}

func TestAsk_CostFromUsage(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{
		chunks: []string{"Paris."},
		finish: provider.FinishStop,
		usage:  &provider.Usage{PromptTokens: 50, CompletionTokens: 20},
	}}}
	ui := tui.NewBufferIO()
	usage := &memUsage{}
	r := newTestRunner(t, p, ui, testSetup{usage: usage})

	cost, err := r.Run(context.Background(), &Ask{}, []provider.Message{userMsg("capital of France?")})
	require.NoError(t, err)
	assert.Equal(t, 0.00009, cost)
	assert.Equal(t, "Paris.\n", ui.Output())
	assert.Empty(t, ui.Warnings())
	assert.Zero(t, ui.Acquired, "ask does not stream")

	require.Len(t, usage.recs, 1)
	rec := usage.recs[0]
	assert.Equal(t, r.SessionID(), rec.SessionID)
	assert.Equal(t, "ask", rec.Mode)
	assert.Equal(t, 50, rec.PromptTokens)
	assert.Equal(t, 20, rec.CompletionTokens)
	assert.Equal(t, "stop", rec.FinishReason)

	// The month total of an empty ledger becomes the session cost.
	l := ledger.New(filepath.Join(t.TempDir(), "cost.json"))
	_, err = l.Add(cost)
	require.NoError(t, err)
	months, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{time.Now().Format(ledger.MonthFormat): 0.00009}, months)
}

func TestAsk_Show(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"4"}, finish: provider.FinishStop,
		usage: &provider.Usage{PromptTokens: 1, CompletionTokens: 1}}}}
	ui := tui.NewBufferIO()
	r := newTestRunner(t, p, ui, testSetup{})

	_, err := r.Run(context.Background(), &Ask{Show: true}, []provider.Message{
		{Role: provider.RoleSystem, Content: "be brief"},
		{Role: provider.RoleUser, Content: "2+2?", Name: "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "System> be brief\nBob> 2+2?\nAssistant> 4\n", ui.Output())
	assert.NotContains(t, ui.Output(), Farewell)
}

func TestAsk_NoUsage(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"ok"}, finish: provider.FinishStop}}}
	ui := tui.NewBufferIO()
	r := newTestRunner(t, p, ui, testSetup{})

	cost, err := r.Run(context.Background(), &Ask{}, []provider.Message{userMsg("hi")})
	require.NoError(t, err)
	assert.Zero(t, cost)
	assert.Equal(t, []string{"API response does not have usage information"}, ui.Warnings())
}

func TestAsk_BudgetExceeded(t *testing.T) {
	p := &scriptedProvider{}
	ui := tui.NewBufferIO()
	// "a b c d e" is 3+1+5 = 9 tokens, 12 with priming; 12 + 20 > 30.
	r := newTestRunner(t, p, ui, testSetup{window: 30, minOut: 20})

	_, err := r.Run(context.Background(), &Ask{}, []provider.Message{userMsg("a b c d e")})
	var budgetErr *session.TokenBudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 12, budgetErr.PromptTokens)
	assert.Empty(t, p.Requests(), "no request may be sent for an inadmissible prompt")
}

func TestAsk_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("401 unauthorized")
	p := &scriptedProvider{replies: []scriptedReply{{err: boom}}}
	r := newTestRunner(t, p, tui.NewBufferIO(), testSetup{})

	_, err := r.Run(context.Background(), &Ask{}, []provider.Message{userMsg("hi")})
	assert.ErrorIs(t, err, boom)
}

func TestAsk_FinishReasonWarnings(t *testing.T) {
	tests := []struct {
		finish   provider.FinishReason
		override int
		want     string
	}{
		{provider.FinishContentFilter, 0, "The reply was omitted due to the content filters."},
		{provider.FinishNone, 0, "API response is incomplete"},
		{"tool_calls", 0, "Unknown finish reason: tool_calls"},
		{provider.FinishLength, 100, "The reply was truncated due to the tokens limit: max_output_tokens for completion = 100."},
	}
	for _, tt := range tests {
		t.Run(string(tt.finish), func(t *testing.T) {
			p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"partial"}, finish: tt.finish,
				usage: &provider.Usage{PromptTokens: 1, CompletionTokens: 1}}}}
			ui := tui.NewBufferIO()
			r := newTestRunner(t, p, ui, testSetup{override: tt.override})

			_, err := r.Run(context.Background(), &Ask{}, []provider.Message{userMsg("hi")})
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, ui.Warnings())
			assert.Equal(t, "partial\n", ui.Output(), "partial content is kept")
		})
	}
}

func TestChat_TruncatedReplyIsKept(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{
		{chunks: []string{"partial", " reply"}, finish: provider.FinishLength},
		{chunks: []string{"done"}, finish: provider.FinishStop},
	}}
	ui := tui.NewBufferIO("hello", "again", "bye")
	r := newTestRunner(t, p, ui, testSetup{minOut: 200})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)

	// {user, "hello"}: 3 + 1 + 1 = 5 tokens, 8 with priming; max(200, 1000-8) = 992.
	assert.Equal(t, []string{
		"The reply was truncated due to the tokens limit: max_output_tokens for completion = 992 " +
			"(prompt tokens: 8, context_window: 1000, minimum of output tokens: 200).",
	}, ui.Warnings())

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 992, reqs[0].MaxTokens)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, provider.Message{Role: provider.RoleAssistant, Content: "partial reply"}, reqs[1].Messages[1])

	out := ui.Output()
	assert.Contains(t, out, "Assistant> partial reply\n")
	assert.True(t, strings.HasSuffix(out, "Assistant> Bye!\n"), "output: %q", out)
	assert.Equal(t, 2, ui.Acquired)
	assert.Equal(t, 2, ui.Released)
}

func TestChat_ExitCommands(t *testing.T) {
	for _, in := range []string{"bye", "BYE!", "Exit", " quit "} {
		p := &scriptedProvider{}
		ui := tui.NewBufferIO(in)
		r := newTestRunner(t, p, ui, testSetup{})

		_, err := r.Run(context.Background(), &Chat{}, nil)
		require.NoError(t, err)
		assert.Empty(t, p.Requests(), "input %q", in)
		assert.Equal(t, "Assistant> Bye!\n", ui.Output())
	}

	p := &scriptedProvider{}
	ui := tui.NewBufferIO("bye", "stop")
	r := newTestRunner(t, p, ui, testSetup{})
	_, err := r.Run(context.Background(), &Chat{ExitCommands: []string{"stop"}}, nil)
	require.NoError(t, err)
	assert.Len(t, p.Requests(), 1, "custom exit commands replace the defaults")
}

func TestChat_InputTooLong(t *testing.T) {
	p := &scriptedProvider{}
	ui := tui.NewBufferIO("a b c d e f", "", "bye")
	// Eviction limit is 30 - 20 = 10; the input needs 3+1+6 = 10 plus 3 priming.
	r := newTestRunner(t, p, ui, testSetup{window: 30, minOut: 20})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Input is too long, try shorter."}, ui.Warnings())
	assert.Empty(t, p.Requests())
}

func TestChat_EvictsOldest(t *testing.T) {
	words := func(n int) string { return strings.TrimSpace(strings.Repeat("w ", n)) }
	first, second := words(30), words(10)

	p := &scriptedProvider{replies: []scriptedReply{
		{chunks: []string{"ok"}, finish: provider.FinishStop},
		{chunks: []string{"ok"}, finish: provider.FinishStop},
	}}
	ui := tui.NewBufferIO(first, second, "bye")
	r := newTestRunner(t, p, ui, testSetup{window: 100, minOut: 20})

	// Initial 34 tokens; the first input brings the total to 68 and the reply
	// to 73. The second input (14) pushes the prompt to 90 > 80, so the
	// initial message is evicted.
	_, err := r.Run(context.Background(), &Chat{}, []provider.Message{userMsg(words(30))})
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Messages, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, first, reqs[1].Messages[0].Content)
	assert.Equal(t, second, reqs[1].Messages[2].Content)
	// Prompt is 56 tokens; max(20, 100-56) = 44.
	assert.Equal(t, 44, reqs[1].MaxTokens)
}

func TestChat_CostFromCounts(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"one two"}, finish: provider.FinishStop}}}
	ui := tui.NewBufferIO("hi", "bye")
	r := newTestRunner(t, p, ui, testSetup{})

	cost, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)
	// Prompt: 5 + 3 = 8 tokens. Completion priced on content only: 2 tokens.
	assert.InDelta(t, 8*0.001/1000+2*0.002/1000, cost, 1e-12)
}

func TestChat_InterruptMidStream(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"par"}, err: context.Canceled}}}
	ui := tui.NewBufferIO("hello", "never read")
	r := newTestRunner(t, p, ui, testSetup{})

	cost, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err, "user cancellation is not an error")
	assert.Positive(t, cost)
	assert.Contains(t, ui.Output(), "Assistant> par\n")
	assert.True(t, strings.HasSuffix(ui.Output(), "Assistant> Bye!\n"))
	assert.Equal(t, ui.Acquired, ui.Released, "raw sink must be released")
	assert.Empty(t, ui.Warnings())
}

func TestChat_InterruptAtInput(t *testing.T) {
	p := &scriptedProvider{}
	ui := tui.NewBufferIO(tui.Interrupt)
	r := newTestRunner(t, p, ui, testSetup{})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Assistant> Bye!\n", ui.Output())
}

func TestChat_StreamErrorPropagates(t *testing.T) {
	boom := errors.New("stream broke")
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"x"}, err: boom}}}
	ui := tui.NewBufferIO("hello")
	r := newTestRunner(t, p, ui, testSetup{})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ui.Acquired, ui.Released)
	assert.NotContains(t, ui.Output(), Farewell)
}

func TestChat_SystemAsUser(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{{chunks: []string{"ok"}, finish: provider.FinishStop}}}
	ui := tui.NewBufferIO("hi", "bye")
	r := newTestRunner(t, p, ui, testSetup{model: "gpt-3.5-turbo", systemAsUser: true})

	_, err := r.Run(context.Background(), &Chat{}, []provider.Message{{Role: provider.RoleSystem, Content: "be kind"}})
	require.NoError(t, err)
	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, provider.RoleUser, reqs[0].Messages[0].Role)
	assert.Contains(t, ui.Output(), "User> be kind\n")
}

func TestRunner_UnsupportedModelWarns(t *testing.T) {
	ui := tui.NewBufferIO("bye")
	r := newTestRunner(t, &scriptedProvider{}, ui, testSetup{model: "llama-3"})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)
	require.Len(t, ui.Warnings(), 1)
	assert.Contains(t, ui.Warnings()[0], "not a known model family")
}

func TestDiscuss(t *testing.T) {
	p := &scriptedProvider{replies: []scriptedReply{
		{chunks: []string{"for", " it"}, finish: provider.FinishStop},
		{chunks: []string{"against it"}, finish: provider.FinishStop},
	}}
	ui := tui.NewBufferIO("", "")
	r := newTestRunner(t, p, ui, testSetup{})

	_, err := r.Run(context.Background(), &Discuss{Names: map[string]string{"gpt1": "Alice"}}, []provider.Message{
		{Role: RoleTheme, Content: "cats"},
		userMsg("or dogs"),
		{Role: RoleGPT2, Content: "disagree"},
	})
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	theme := provider.Message{Role: provider.RoleSystem, Content: "cats\nor dogs"}
	assert.Equal(t, []provider.Message{
		theme,
		{Role: provider.RoleSystem, Content: defaultSupporter},
	}, reqs[0].Messages)
	assert.Equal(t, []provider.Message{
		theme,
		{Role: provider.RoleSystem, Content: "disagree"},
		{Role: provider.RoleUser, Content: "for it"},
	}, reqs[1].Messages)

	out := ui.Output()
	assert.True(t, strings.HasPrefix(out, "Theme: cats\nor dogs\n"), "output: %q", out)
	assert.Contains(t, out, "Alice> for it\n")
	assert.Contains(t, out, "gpt2> against it\n")
	assert.True(t, strings.HasSuffix(out, "Assistant> Bye!\n"))
	assert.Equal(t, 10, ui.NameWidth())
}

func TestDiscuss_NoTheme(t *testing.T) {
	p := &scriptedProvider{}
	r := newTestRunner(t, p, tui.NewBufferIO(), testSetup{})

	_, err := r.Run(context.Background(), &Discuss{}, []provider.Message{{Role: RoleGPT1, Content: "x"}})
	assert.ErrorIs(t, err, ErrNoTheme)
	assert.Empty(t, p.Requests())
}

func TestDiscuss_PinnedSurviveEviction(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("w ", 30))
	p := &scriptedProvider{replies: []scriptedReply{
		{chunks: []string{long}, finish: provider.FinishStop},
		{chunks: []string{long}, finish: provider.FinishStop},
		{chunks: []string{"short"}, finish: provider.FinishStop},
	}}
	ui := tui.NewBufferIO("", "", "")
	r := newTestRunner(t, p, ui, testSetup{window: 100, minOut: 20})

	_, err := r.Run(context.Background(), &Discuss{}, []provider.Message{{Role: RoleTheme, Content: "t"}})
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 3)
	for _, req := range reqs {
		assert.Equal(t, "t", req.Messages[0].Content, "theme is pinned")
		assert.Equal(t, provider.RoleSystem, req.Messages[1].Role, "priming is pinned")
		assert.LessOrEqual(t, req.MaxTokens+tokensOf(t, req.Messages), 100)
	}
}

func tokensOf(t *testing.T, msgs []provider.Message) int {
	t.Helper()
	c, err := tokens.NewCounter("gpt-4", wordEncoding{}, tokens.FallbackDefault)
	require.NoError(t, err)
	return c.CountMessages(msgs)
}

// pinnedMode pins its initial messages without validating them, so the first
// eviction has to deal with pinned content over the limit.
type pinnedMode struct {
	buf  *session.Buffer
	sent bool
}

func (m *pinnedMode) Name() string      { return "pinned" }
func (m *pinnedMode) Interactive() bool { return true }

func (m *pinnedMode) Start(r *Runner, msgs []provider.Message) error {
	m.buf = r.NewBuffer()
	for _, msg := range msgs {
		m.buf.AppendPinned(msg)
	}
	return nil
}

func (m *pinnedMode) Admit(context.Context, *Runner) (bool, error) {
	done := m.sent
	m.sent = true
	return done, nil
}

func (m *pinnedMode) NextRequest(r *Runner) (*Turn, error) {
	if err := evict(r, m.buf); err != nil {
		return nil, err
	}
	return &Turn{Buffer: m.buf}, nil
}

func (m *pinnedMode) HandleResponse(_ *Runner, _ *Turn, reply *Reply) error {
	m.buf.Append(reply.Message)
	return nil
}

func TestRunner_BufferUnderflowIsFatal(t *testing.T) {
	p := &scriptedProvider{}
	ui := tui.NewBufferIO()
	r := newTestRunner(t, p, ui, testSetup{window: 50, minOut: 20})

	long := strings.TrimSpace(strings.Repeat("w ", 40))
	_, err := r.Run(context.Background(), &pinnedMode{}, []provider.Message{{Role: provider.RoleSystem, Content: long}})

	var underflow *session.BufferUnderflowError
	require.ErrorAs(t, err, &underflow)
	assert.Equal(t, 30, underflow.Limit)
	assert.Empty(t, p.Requests(), "nothing is sent once pinned content cannot fit")
	assert.NotContains(t, ui.Output(), Farewell)
}

func TestDiscuss_PinnedAtLimitEvictsReplies(t *testing.T) {
	// Theme and priming cost 5 tokens each (framing 3, role 1, content 1). With
	// reply priming the prompt is 13, exactly the eviction limit of 33 - 20.
	p := &scriptedProvider{replies: []scriptedReply{
		{chunks: []string{"yes"}, finish: provider.FinishStop},
		{chunks: []string{"no"}, finish: provider.FinishStop},
	}}
	ui := tui.NewBufferIO("", "")
	r := newTestRunner(t, p, ui, testSetup{window: 33, minOut: 20})

	_, err := r.Run(context.Background(), &Discuss{}, []provider.Message{
		{Role: RoleTheme, Content: "t"},
		{Role: RoleGPT1, Content: "a"},
		{Role: RoleGPT2, Content: "b"},
	})
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Len(t, req.Messages, 2, "only the pinned pair fits")
	}
}

func TestRunner_ClaudeModelsDoNotWarn(t *testing.T) {
	ui := tui.NewBufferIO("bye")
	r := newTestRunner(t, &scriptedProvider{}, ui, testSetup{model: "claude-sonnet-4"})

	_, err := r.Run(context.Background(), &Chat{}, nil)
	require.NoError(t, err)
	assert.Empty(t, ui.Warnings())
}
