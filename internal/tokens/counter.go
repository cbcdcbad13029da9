// Package tokens counts the tokens a chat message occupies in a request.
//
// A message costs a fixed per-message overhead, the encoded length of each of
// its fields (role, content, name) and, when a name is present, a per-name
// adjustment. Both constants depend on the model family.
package tokens

import (
	"fmt"
	"strings"

	"github.com/apexion-ai/cg/internal/provider"
)

// ReplyPriming is the fixed cost of the assistant turn every reply is primed with.
const ReplyPriming = 3

// Family holds the framing constants of a model family.
type Family struct {
	Name string
	// TokensPerMessage is added once per message.
	TokensPerMessage int
	// TokensPerName is added when the message carries a name.
	TokensPerName int
}

var (
	// FamilyGPT35: every message follows <|start|>{role/name}\n{content}<|end|>\n
	// and the role is omitted when a name is present.
	FamilyGPT35 = Family{Name: "gpt-3.5", TokensPerMessage: 4, TokensPerName: -1}
	FamilyGPT4  = Family{Name: "gpt-4", TokensPerMessage: 3, TokensPerName: 1}

	// FamilyClaude approximates the Messages API framing. Names are not sent
	// to Anthropic, so they carry no adjustment.
	FamilyClaude = Family{Name: "claude", TokensPerMessage: 3, TokensPerName: 0}

	// DefaultFamily is used for unrecognized models under FallbackDefault.
	DefaultFamily = Family{Name: "default", TokensPerMessage: 3, TokensPerName: 1}
)

// Policy selects what happens when the model family is not recognized.
type Policy int

const (
	// FallbackDefault counts with DefaultFamily; the counter reports Supported() == false.
	FallbackDefault Policy = iota
	// Strict fails construction with UnsupportedModelError.
	Strict
)

// ParsePolicy maps a config value ("fallback", "strict") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback", "default":
		return FallbackDefault, nil
	case "strict":
		return Strict, nil
	default:
		return FallbackDefault, fmt.Errorf("unknown token counting policy %q (want fallback or strict)", s)
	}
}

// UnsupportedModelError is returned under the Strict policy for models outside
// the known families.
type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("model %s is not supported by the token counter", e.Model)
}

// FamilyOf returns the family of model and whether it was recognized.
func FamilyOf(model string) (Family, bool) {
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return FamilyGPT35, true
	case strings.Contains(model, "gpt-4"):
		return FamilyGPT4, true
	case strings.HasPrefix(model, "claude"):
		return FamilyClaude, true
	default:
		return DefaultFamily, false
	}
}

// Counter counts message tokens for one model.
type Counter struct {
	enc       Encoding
	family    Family
	supported bool
}

// NewCounter creates a counter for model using enc for field lengths.
func NewCounter(model string, enc Encoding, policy Policy) (*Counter, error) {
	family, ok := FamilyOf(model)
	if !ok && policy == Strict {
		return nil, &UnsupportedModelError{Model: model}
	}
	return &Counter{enc: enc, family: family, supported: ok}, nil
}

// Family returns the framing constants in use.
func (c *Counter) Family() Family { return c.family }

// Supported reports whether the model family was recognized.
func (c *Counter) Supported() bool { return c.supported }

// CountMessage returns the tokens msg occupies in a prompt. With onlyContent
// it returns the length of the content alone, which is what a completion's
// body is priced at.
func (c *Counter) CountMessage(msg provider.Message, onlyContent bool) int {
	if onlyContent {
		return c.enc.TokenLen(msg.Content)
	}
	n := c.family.TokensPerMessage
	n += c.enc.TokenLen(string(msg.Role))
	n += c.enc.TokenLen(msg.Content)
	if msg.Name != "" {
		n += c.enc.TokenLen(msg.Name)
		n += c.family.TokensPerName
	}
	if n < 0 {
		return 0
	}
	return n
}

// CountMessages returns the prompt size of msgs including reply priming.
func (c *Counter) CountMessages(msgs []provider.Message) int {
	n := 0
	for _, m := range msgs {
		n += c.CountMessage(m, false)
	}
	return n + ReplyPriming
}
