package session

import "fmt"

// DefaultMinOutputTokens is the completion floor when none is configured.
const DefaultMinOutputTokens = 200

// TokenBudgetExceededError reports a prompt that leaves no room for the
// minimum completion.
type TokenBudgetExceededError struct {
	PromptTokens    int
	MinOutputTokens int
	ContextWindow   int
}

func (e *TokenBudgetExceededError) Error() string {
	return fmt.Sprintf("too many tokens: prompt tokens (%d) + completion tokens (%d) > context window (%d)",
		e.PromptTokens, e.MinOutputTokens, e.ContextWindow)
}

// Guard decides whether a prompt fits the model and how many completion
// tokens a request may ask for.
type Guard struct {
	contextWindow   int
	maxOutputTokens int
	minOutputTokens int
	override        int
}

// NewGuard creates a Guard. override is the explicit max-output setting
// (0 = auto); when set it is also the completion floor.
func NewGuard(contextWindow, maxOutputTokens, minOutputTokens, override int) *Guard {
	if minOutputTokens <= 0 {
		minOutputTokens = DefaultMinOutputTokens
	}
	if override > 0 {
		minOutputTokens = override
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = contextWindow
	}
	return &Guard{
		contextWindow:   contextWindow,
		maxOutputTokens: maxOutputTokens,
		minOutputTokens: minOutputTokens,
		override:        override,
	}
}

func (g *Guard) ContextWindow() int   { return g.contextWindow }
func (g *Guard) MinOutputTokens() int { return g.minOutputTokens }

// Override returns the explicit max-output setting, 0 when unset.
func (g *Guard) Override() int { return g.override }

// CheckAdmissible fails when promptTokens plus the completion floor exceed the window.
func (g *Guard) CheckAdmissible(promptTokens int) error {
	if promptTokens+g.minOutputTokens > g.contextWindow {
		return &TokenBudgetExceededError{
			PromptTokens:    promptTokens,
			MinOutputTokens: g.minOutputTokens,
			ContextWindow:   g.contextWindow,
		}
	}
	return nil
}

// AllowedCompletionTokens returns the max_tokens to request for a prompt of
// promptTokens. Callers check admissibility first; for an admissible prompt
// the result never pushes the request past the context window.
func (g *Guard) AllowedCompletionTokens(promptTokens int) int {
	room := g.contextWindow - promptTokens
	var n int
	if g.override > 0 {
		n = min(g.override, room)
	} else {
		n = max(g.minOutputTokens, room)
	}
	n = min(n, g.maxOutputTokens)
	return max(n, 1)
}

// EvictionLimit is the prompt size history is trimmed to after each append so
// the next turn still has room for the completion floor.
func (g *Guard) EvictionLimit() int {
	return g.contextWindow - g.minOutputTokens
}
