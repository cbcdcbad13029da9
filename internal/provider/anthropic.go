package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// anthropicContinueTurn opens a conversation whose oldest kept turn is the
// assistant's; the Messages API requires the first message to be a user turn.
const anthropicContinueTurn = "Continue."

// anthropicDefaultMaxTokens is sent when the caller does not cap the reply;
// the Messages API requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider using the Anthropic native API.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req *ChatRequest) (*Completion, error) {
	params := buildAnthropicParams(req)
	slog.Debug("anthropic request", slog.String("model", req.Model), slog.Int64("max_tokens", params.MaxTokens))

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := &Completion{
		Message:      Message{Role: RoleAssistant, Content: text.String()},
		FinishReason: mapStopReason(msg.StopReason),
	}
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		}
	}
	return out, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	params := buildAnthropicParams(req)
	slog.Debug("anthropic stream", slog.String("model", req.Model), slog.Int64("max_tokens", params.MaxTokens))

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the Anthropic SSE stream and emits unified events.
//
// Anthropic streaming event sequence:
//   - MessageStartEvent -> role and prompt usage
//   - ContentBlockDeltaEvent (TextDelta) -> emit EventTextDelta
//   - MessageDeltaEvent -> stop reason and completion usage
//   - MessageStopEvent -> emit EventDone
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- Event) {
	defer close(ch)
	defer stream.Close()

	var (
		finish FinishReason
		usage  Usage
	)
	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Event{Type: EventError, Error: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			ch <- Event{Type: EventRole, Role: RoleAssistant}
			usage.PromptTokens = int(variant.Message.Usage.InputTokens)

		case anthropic.ContentBlockDeltaEvent:
			if d, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				ch <- Event{Type: EventTextDelta, TextDelta: d.Text}
			}

		case anthropic.MessageDeltaEvent:
			finish = mapStopReason(variant.Delta.StopReason)
			usage.CompletionTokens = int(variant.Usage.OutputTokens)

		case anthropic.MessageStopEvent:
			ch <- Event{Type: EventDone, FinishReason: finish, Usage: usagePtr(usage)}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Event{Type: EventError, Error: fmt.Errorf("anthropic streaming error: %w", err)}
		return
	}
	ch <- Event{Type: EventDone, FinishReason: finish, Usage: usagePtr(usage)}
}

func usagePtr(u Usage) *Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &u
}

// buildAnthropicParams converts the unified request. System messages are
// lifted into the top-level system prompt; every other non-assistant role is
// sent as a user turn. The result always starts with a user turn: a
// system-only request sends its last system message as the user turn, and a
// history opening with the assistant gets anthropicContinueTurn first.
func buildAnthropicParams(req *ChatRequest) anthropic.MessageNewParams {
	var (
		system []anthropic.TextBlockParam
		msgs   []anthropic.MessageParam
	)
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	switch {
	case len(msgs) == 0 && len(system) > 0:
		last := system[len(system)-1]
		system = system[:len(system)-1]
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(last.Text)))
	case len(msgs) == 0 || msgs[0].Role != anthropic.MessageParamRoleUser:
		msgs = append([]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(anthropicContinueTurn))}, msgs...)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	// Newer models reject temperature and top_p together; top_p wins when it narrows sampling.
	if req.Sampling.TopP > 0 && req.Sampling.TopP < 1 {
		params.TopP = anthropic.Float(req.Sampling.TopP)
	} else {
		params.Temperature = anthropic.Float(req.Sampling.Temperature)
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// mapStopReason folds Anthropic stop reasons onto the OpenAI vocabulary.
func mapStopReason(r anthropic.StopReason) FinishReason {
	switch r {
	case "":
		return FinishNone
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishStop
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case anthropic.StopReasonRefusal:
		return FinishContentFilter
	default:
		return FinishReason(r)
	}
}
