package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var perK = decimal.NewFromInt(1000)

// TurnCost records cost data for a single request.
type TurnCost struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Timestamp        time.Time
}

// CostTracker accumulates the estimated dollar cost of a session. Prices are
// USD per 1K tokens.
type CostTracker struct {
	mu          sync.Mutex
	prompt      decimal.Decimal
	completion  decimal.Decimal
	sessionCost decimal.Decimal
	turns       []TurnCost
}

// NewCostTracker creates a CostTracker for one model's prices.
func NewCostTracker(promptPerK, completionPerK float64) *CostTracker {
	return &CostTracker{
		prompt:     decimal.NewFromFloat(promptPerK),
		completion: decimal.NewFromFloat(completionPerK),
	}
}

// RecordTurn adds the cost of one request and returns it.
func (ct *CostTracker) RecordTurn(promptTokens, completionTokens int) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cost := ct.prompt.Mul(decimal.NewFromInt(int64(promptTokens))).Div(perK).
		Add(ct.completion.Mul(decimal.NewFromInt(int64(completionTokens))).Div(perK))
	ct.sessionCost = ct.sessionCost.Add(cost)

	f := cost.InexactFloat64()
	ct.turns = append(ct.turns, TurnCost{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             f,
		Timestamp:        time.Now(),
	})
	return f
}

// SessionCost returns the total session cost in dollars.
func (ct *CostTracker) SessionCost() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.sessionCost.InexactFloat64()
}

// Turns returns a copy of the recorded turns.
func (ct *CostTracker) Turns() []TurnCost {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return append([]TurnCost(nil), ct.turns...)
}

// Summary returns a formatted string with cost details.
func (ct *CostTracker) Summary() string {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if len(ct.turns) == 0 {
		return "No usage recorded."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session cost: $%s (%d requests)\n", ct.sessionCost.StringFixed(6), len(ct.turns)))

	totalPrompt, totalCompletion := 0, 0
	for i, t := range ct.turns {
		totalPrompt += t.PromptTokens
		totalCompletion += t.CompletionTokens
		sb.WriteString(fmt.Sprintf("  Request %d: prompt=%d completion=%d  $%.6f\n",
			i+1, t.PromptTokens, t.CompletionTokens, t.Cost))
	}
	sb.WriteString(fmt.Sprintf("Total tokens: %d prompt + %d completion = %d",
		totalPrompt, totalCompletion, totalPrompt+totalCompletion))

	return sb.String()
}
