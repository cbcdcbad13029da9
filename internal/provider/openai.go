package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// DefaultOpenAIBaseURL is used when neither the flag nor OPENAI_API_BASE_URL is set.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible APIs.
type OpenAIProvider struct {
	client  openai.Client
	name    string
	baseURL string
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(normalizeBaseURL(baseURL)))
	}
	name := "openai"
	switch {
	case strings.Contains(baseURL, "deepseek"):
		name = "deepseek"
	case strings.Contains(baseURL, "groq"):
		name = "groq"
	case strings.Contains(baseURL, "azure"):
		name = "azure"
	}
	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		name:    name,
		baseURL: baseURL,
	}
}

// normalizeBaseURL accepts both "https://api.openai.com" and ".../v1".
func normalizeBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if strings.Contains(u, "api.openai.com") && !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u + "/"
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req *ChatRequest) (*Completion, error) {
	params := p.buildParams(req)
	slog.Debug("openai request", slog.String("model", req.Model), slog.Int("max_tokens", req.MaxTokens))

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: response has no choices")
	}

	choice := resp.Choices[0]
	out := &Completion{
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Message.Content,
		},
		FinishReason: FinishReason(choice.FinishReason),
	}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		}
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}
	slog.Debug("openai stream", slog.String("model", req.Model), slog.Int("max_tokens", req.MaxTokens))

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

func (p *OpenAIProvider) buildParams(req *ChatRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(req.Model),
		Messages:         buildOpenAIMessages(req.Messages),
		Temperature:      openai.Float(req.Sampling.Temperature),
		TopP:             openai.Float(req.Sampling.TopP),
		PresencePenalty:  openai.Float(req.Sampling.PresencePenalty),
		FrequencyPenalty: openai.Float(req.Sampling.FrequencyPenalty),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// processStream reads the OpenAI SSE stream and emits unified events.
//
// The finish reason arrives on the last choice chunk; with include_usage the
// API then sends one more chunk with no choices that carries the usage, so the
// stream is drained before EventDone is emitted.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- Event) {
	defer close(ch)
	defer stream.Close()

	var (
		finish FinishReason
		usage  *Usage
	)
	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Event{Type: EventError, Error: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = &Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if r := string(choice.Delta.Role); r != "" {
			ch <- Event{Type: EventRole, Role: Role(r)}
		}
		if choice.Delta.Content != "" {
			ch <- Event{Type: EventTextDelta, TextDelta: choice.Delta.Content}
		}
		if r := string(choice.FinishReason); r != "" {
			finish = FinishReason(r)
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Event{Type: EventError, Error: fmt.Errorf("openai streaming error: %w", err)}
		return
	}
	ch <- Event{Type: EventDone, FinishReason: finish, Usage: usage}
}

// buildOpenAIMessages converts unified messages to OpenAI API params.
// Roles other than system and assistant are sent as user messages.
func buildOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			m := openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(msg.Content)},
			}
			if msg.Name != "" {
				m.Name = openai.String(msg.Name)
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfSystem: &m})
		case RoleAssistant:
			m := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)},
			}
			if msg.Name != "" {
				m.Name = openai.String(msg.Name)
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &m})
		default:
			m := openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(msg.Content)},
			}
			if msg.Name != "" {
				m.Name = openai.String(msg.Name)
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfUser: &m})
		}
	}
	return params
}
