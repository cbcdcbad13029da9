package session

import (
	"fmt"

	"github.com/apexion-ai/cg/internal/provider"
	"github.com/apexion-ai/cg/internal/tokens"
)

// MessageCounter sizes a message; *tokens.Counter implements it.
type MessageCounter interface {
	CountMessage(msg provider.Message, onlyContent bool) int
}

// BufferUnderflowError is returned when the pinned messages alone do not fit
// the eviction limit.
type BufferUnderflowError struct {
	Limit        int
	PinnedTokens int
}

func (e *BufferUnderflowError) Error() string {
	return fmt.Sprintf("pinned messages need %d tokens, more than the limit of %d",
		e.PinnedTokens+tokens.ReplyPriming, e.Limit)
}

// Buffer is the conversation history of one participant: messages with their
// token counts kept in lock-step and a cached total.
type Buffer struct {
	counter MessageCounter
	msgs    []provider.Message
	counts  []int
	pinned  []bool
	total   int
}

// NewBuffer returns an empty buffer that sizes messages with counter.
func NewBuffer(counter MessageCounter) *Buffer {
	return &Buffer{counter: counter}
}

// Append adds msg and returns its token count.
func (b *Buffer) Append(msg provider.Message) int {
	return b.add(msg, false)
}

// AppendPinned adds msg exempt from eviction and returns its token count.
func (b *Buffer) AppendPinned(msg provider.Message) int {
	return b.add(msg, true)
}

func (b *Buffer) add(msg provider.Message, pinned bool) int {
	n := b.counter.CountMessage(msg, false)
	b.msgs = append(b.msgs, msg)
	b.counts = append(b.counts, n)
	b.pinned = append(b.pinned, pinned)
	b.total += n
	return n
}

// Len returns the number of messages.
func (b *Buffer) Len() int { return len(b.msgs) }

// Messages returns a copy of the history in order.
func (b *Buffer) Messages() []provider.Message {
	out := make([]provider.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// tokenCounts returns a copy of the per-message token counts.
func (b *Buffer) tokenCounts() []int {
	out := make([]int, len(b.counts))
	copy(out, b.counts)
	return out
}

// TotalTokens is the sum of the message counts.
func (b *Buffer) TotalTokens() int { return b.total }

// PromptTokens is the size of the buffer as a request: TotalTokens plus reply priming.
func (b *Buffer) PromptTokens() int { return b.total + tokens.ReplyPriming }

// EvictOldestUntil removes the earliest unpinned messages while the prompt
// size exceeds limit and returns how many were removed. It fails with
// BufferUnderflowError when only pinned messages remain and the limit is
// still not met.
func (b *Buffer) EvictOldestUntil(limit int) (int, error) {
	evicted := 0
	for b.PromptTokens() > limit {
		i := b.oldestUnpinned()
		if i < 0 {
			return evicted, &BufferUnderflowError{Limit: limit, PinnedTokens: b.total}
		}
		b.total -= b.counts[i]
		b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
		b.counts = append(b.counts[:i], b.counts[i+1:]...)
		b.pinned = append(b.pinned[:i], b.pinned[i+1:]...)
		evicted++
	}
	return evicted, nil
}

func (b *Buffer) oldestUnpinned() int {
	for i, p := range b.pinned {
		if !p {
			return i
		}
	}
	return -1
}
