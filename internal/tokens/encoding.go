package tokens

import (
	"fmt"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncodingName is used for models tiktoken has no mapping for.
const DefaultEncodingName = "cl100k_base"

// Encoding reports how many tokens a piece of text encodes to.
type Encoding interface {
	TokenLen(text string) int
}

// TiktokenEncoding wraps a tiktoken BPE encoding.
type TiktokenEncoding struct {
	enc  *tiktoken.Tiktoken
	name string
}

// NewTiktokenEncoding returns the encoding tiktoken maps model to, or
// cl100k_base when the model is not one tiktoken knows.
func NewTiktokenEncoding(model string) (*TiktokenEncoding, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &TiktokenEncoding{enc: enc, name: model}, nil
	}
	enc, err := tiktoken.GetEncoding(DefaultEncodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &TiktokenEncoding{enc: enc, name: DefaultEncodingName}, nil
}

func (e *TiktokenEncoding) TokenLen(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// Name returns the model or encoding name the encoding was resolved from.
func (e *TiktokenEncoding) Name() string { return e.name }

// DefaultCharsPerToken is the default character-to-token ratio.
// Approximately 4 characters equals 1 token for English text.
const DefaultCharsPerToken = 4.0

// EstimatingEncoding approximates token length from the rune count. It is the
// offline fallback when the BPE ranks cannot be loaded.
type EstimatingEncoding struct {
	CharsPerToken float64
}

func NewEstimatingEncoding() *EstimatingEncoding {
	return &EstimatingEncoding{CharsPerToken: DefaultCharsPerToken}
}

// TokenLen rounds up so that any non-empty text costs at least one token.
func (e *EstimatingEncoding) TokenLen(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	tokens := int(float64(n) / ratio)
	if float64(tokens)*ratio < float64(n) {
		tokens++
	}
	return tokens
}
