package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuard_Defaults(t *testing.T) {
	g := NewGuard(4096, 1024, 0, 0)
	assert.Equal(t, DefaultMinOutputTokens, g.MinOutputTokens())
	assert.Equal(t, 0, g.Override())
	assert.Equal(t, 4096-DefaultMinOutputTokens, g.EvictionLimit())

	g = NewGuard(4096, 1024, 200, 500)
	assert.Equal(t, 500, g.MinOutputTokens(), "override acts as the floor")
	assert.Equal(t, 4096-500, g.EvictionLimit())
}

func TestCheckAdmissible(t *testing.T) {
	g := NewGuard(100, 100, 20, 0)
	require.NoError(t, g.CheckAdmissible(80))

	err := g.CheckAdmissible(81)
	var exceeded *TokenBudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 81, exceeded.PromptTokens)
	assert.Equal(t, 20, exceeded.MinOutputTokens)
	assert.Equal(t, 100, exceeded.ContextWindow)
	assert.Contains(t, err.Error(), "prompt tokens (81)")
}

func TestAllowedCompletionTokens(t *testing.T) {
	tests := []struct {
		name     string
		window   int
		maxOut   int
		minOut   int
		override int
		prompt   int
		want     int
	}{
		{"room above floor", 1000, 1000, 100, 0, 300, 700},
		{"room equals floor", 1000, 1000, 100, 0, 900, 100},
		{"clamped to model output cap", 128000, 4096, 200, 0, 1000, 4096},
		{"override below room", 1000, 1000, 100, 250, 300, 250},
		{"override clamped to model cap", 8000, 300, 100, 500, 100, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.window, tt.maxOut, tt.minOut, tt.override)
			assert.Equal(t, tt.want, g.AllowedCompletionTokens(tt.prompt))
		})
	}
}

func TestAllowedCompletionTokens_NeverOverflowsWindow(t *testing.T) {
	for _, window := range []int{50, 100, 4096, 16385} {
		for _, minOut := range []int{1, 20, 200} {
			g := NewGuard(window, window, minOut, 0)
			for prompt := 0; prompt <= window; prompt += 7 {
				if g.CheckAdmissible(prompt) != nil {
					continue
				}
				got := g.AllowedCompletionTokens(prompt)
				assert.LessOrEqual(t, prompt+got, window,
					"window=%d min=%d prompt=%d", window, minOut, prompt)
				assert.GreaterOrEqual(t, got, minOut)
			}
		}
	}
}
