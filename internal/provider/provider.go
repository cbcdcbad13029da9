// Package provider defines the completion capability used by the session runner.
// Each adapter (openai.go, anthropic.go) implements the Provider interface,
// normalizing vendor-specific responses into a Completion or a unified Event sequence.
package provider

import "context"

// ── Message types ────────────────────────────────────────────────────────────

// Role is the author of a message. Besides the API roles, configuration may use
// custom roles (e.g. "theme", "gpt1") that the runner rewrites before sending.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in the conversation history.
type Message struct {
	Role    Role   `json:"role" toml:"role"`
	Content string `json:"content" toml:"content"`
	Name    string `json:"name,omitempty" toml:"name"`
}

// ── Request types ────────────────────────────────────────────────────────────

// Sampling holds the sampling parameters forwarded to the API.
type Sampling struct {
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// ChatRequest is the unified request format sent to a provider.
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
	Sampling  Sampling
}

// ── Response types ───────────────────────────────────────────────────────────

// FinishReason reports why the model stopped. The empty value means the API
// did not send one.
type FinishReason string

const (
	FinishNone          FinishReason = ""
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage records token consumption for an API call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion is the result of a blocking request.
type Completion struct {
	Message      Message
	FinishReason FinishReason
	// Usage is nil when the response carried no usage information.
	Usage *Usage
}

// ── Event types (streaming output) ───────────────────────────────────────────

type EventType int

const (
	// EventRole: the role of the reply, sent once before any content.
	EventRole EventType = iota

	// EventTextDelta: incremental text output, rendered in real time.
	EventTextDelta

	// EventDone: end of the reply, carries the finish reason and usage if known.
	EventDone

	// EventError: an error occurred.
	EventError
)

// Event is the unified streaming event emitted by a provider.
type Event struct {
	Type EventType

	// EventRole
	Role Role

	// EventTextDelta
	TextDelta string

	// EventDone
	FinishReason FinishReason
	Usage        *Usage

	// EventError
	Error error
}

// ── Provider interface ───────────────────────────────────────────────────────

// Provider is the completion capability.
// Implementors convert the unified ChatRequest into the vendor request and the
// vendor response into a Completion or Event sequence. Provider faults
// (network, auth, rate limit) are returned as-is; nothing here retries.
type Provider interface {
	// Complete performs a blocking request.
	Complete(ctx context.Context, req *ChatRequest) (*Completion, error)

	// Stream initiates a streaming request.
	// The returned channel emits Events until EventDone or EventError, then closes.
	// The caller must fully consume the channel to avoid goroutine leaks.
	Stream(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string
}
