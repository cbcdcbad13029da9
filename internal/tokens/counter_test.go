package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexion-ai/cg/internal/catalog"
	"github.com/apexion-ai/cg/internal/provider"
)

// wordEncoding counts one token per whitespace-separated word.
type wordEncoding struct{}

func (wordEncoding) TokenLen(text string) int { return len(strings.Fields(text)) }

// tableEncoding returns fixed lengths and zero for anything unlisted.
type tableEncoding map[string]int

func (t tableEncoding) TokenLen(text string) int { return t[text] }

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		model string
		want  Family
		ok    bool
	}{
		{"gpt-3.5-turbo", FamilyGPT35, true},
		{"gpt-3.5-turbo-0125", FamilyGPT35, true},
		{"gpt-4", FamilyGPT4, true},
		{"gpt-4o-mini", FamilyGPT4, true},
		{"gpt-4-turbo", FamilyGPT4, true},
		{"claude-3-5-sonnet-latest", FamilyClaude, true},
		{"claude-3-5-haiku", FamilyClaude, true},
		{"llama-3-70b", DefaultFamily, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := FamilyOf(tt.model)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewCounter_Policy(t *testing.T) {
	c, err := NewCounter("llama-3-70b", wordEncoding{}, FallbackDefault)
	require.NoError(t, err)
	assert.False(t, c.Supported())
	assert.Equal(t, DefaultFamily, c.Family())

	_, err = NewCounter("llama-3-70b", wordEncoding{}, Strict)
	var unsupported *UnsupportedModelError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "llama-3-70b", unsupported.Model)

	c, err = NewCounter("gpt-4o", wordEncoding{}, Strict)
	require.NoError(t, err)
	assert.True(t, c.Supported())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackDefault, p)

	p, err = ParsePolicy("Strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)

	_, err = ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestCountMessage_ContentOnly(t *testing.T) {
	c, err := NewCounter("gpt-3.5-turbo", wordEncoding{}, Strict)
	require.NoError(t, err)

	msg := provider.Message{Role: provider.RoleAssistant, Content: "one two three", Name: "bot"}
	assert.Equal(t, 3, c.CountMessage(msg, true))
}

func TestCountMessage_PerFamilyOverhead(t *testing.T) {
	// Only the content encodes to a token here, so the result is overhead + 1.
	enc := tableEncoding{"hi": 1}
	msg := provider.Message{Role: provider.RoleUser, Content: "hi"}

	c35, err := NewCounter("gpt-3.5-turbo", enc, Strict)
	require.NoError(t, err)
	assert.Equal(t, 5, c35.CountMessage(msg, false))

	c4, err := NewCounter("gpt-4", enc, Strict)
	require.NoError(t, err)
	assert.Equal(t, 4, c4.CountMessage(msg, false))
}

func TestCountMessage_Name(t *testing.T) {
	msg := provider.Message{Role: provider.RoleUser, Content: "hello there", Name: "alice"}

	c35, err := NewCounter("gpt-3.5-turbo", wordEncoding{}, Strict)
	require.NoError(t, err)
	// 4 overhead + role 1 + content 2 + name 1 - 1
	assert.Equal(t, 7, c35.CountMessage(msg, false))

	c4, err := NewCounter("gpt-4", wordEncoding{}, Strict)
	require.NoError(t, err)
	// 3 overhead + role 1 + content 2 + name 1 + 1
	assert.Equal(t, 8, c4.CountMessage(msg, false))
}

func TestCountMessages_SumPlusPriming(t *testing.T) {
	c, err := NewCounter("gpt-4o", wordEncoding{}, Strict)
	require.NoError(t, err)

	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "You are a helpful assistant."},
		{Role: provider.RoleUser, Content: "Who won the world series in 2020?", Name: "fan"},
		{Role: provider.RoleAssistant, Content: "The Los Angeles Dodgers."},
	}
	sum := 0
	for _, m := range msgs {
		n := c.CountMessage(m, false)
		assert.GreaterOrEqual(t, n, 0)
		assert.Equal(t, n, c.CountMessage(m, false), "count must be deterministic")
		sum += n
	}
	assert.Equal(t, sum+ReplyPriming, c.CountMessages(msgs))
	assert.Equal(t, ReplyPriming, c.CountMessages(nil))
}

func TestEstimatingEncoding(t *testing.T) {
	e := NewEstimatingEncoding()
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"日本語テキスト", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.TokenLen(tt.text), "TokenLen(%q)", tt.text)
	}

	zero := &EstimatingEncoding{}
	assert.Equal(t, 1, zero.TokenLen("abc"), "zero ratio falls back to the default")
}

func TestBuiltinCatalogModelsAreKnownFamilies(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	for _, id := range cat.Models() {
		_, ok := FamilyOf(id)
		assert.True(t, ok, "%s should have a known token family", id)
	}
}
