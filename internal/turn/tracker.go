package turn

import (
	"strings"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

// DefaultRecentCapacity bounds the set of recently accepted turns
const DefaultRecentCapacity = 10

// Finalized is a user turn that passed deduplication. Text is the provider's
// original wording, not the normalized form.
type Finalized struct {
	Text       string
	Confidence float64
}

// Tracker turns transcript events into unique finalized user turns.
// It is owned by a single turn loop and is not safe for concurrent use.
type Tracker struct {
	capacity int
	last     string
	recent   []string
	seen     map[string]struct{}
}

// NewTracker creates a tracker remembering up to capacity recent turns
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Tracker{
		capacity: capacity,
		recent:   make([]string, 0, capacity+1),
		seen:     make(map[string]struct{}, capacity+1),
	}
}

// Normalize lowercases, trims and removes trailing . , ! ? from text
func Normalize(text string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(text)), ".,!?")
}

// Observe consumes one turn event. It returns ok=true exactly once per accepted
// end-of-turn; interim events and duplicates return ok=false.
func (t *Tracker) Observe(event repositories.TurnEvent) (Finalized, bool) {
	if !event.EndOfTurn {
		return Finalized{}, false
	}

	normalized := Normalize(event.Text)
	if normalized == "" || normalized == t.last {
		return Finalized{}, false
	}
	if _, dup := t.seen[normalized]; dup {
		return Finalized{}, false
	}

	t.last = normalized
	t.recent = append(t.recent, normalized)
	t.seen[normalized] = struct{}{}
	if len(t.recent) > t.capacity {
		oldest := t.recent[0]
		t.recent = t.recent[1:]
		delete(t.seen, oldest)
	}

	return Finalized{Text: event.Text, Confidence: event.Confidence}, true
}

// Recent returns the remembered normalized turns, oldest first
func (t *Tracker) Recent() []string {
	out := make([]string, len(t.recent))
	copy(out, t.recent)
	return out
}
