package sequence

import (
	"fmt"

	"keypad-service/internal/types"
)

// Length is the number of presses in a complete attempt.
const Length = 5

// Outcome is the result of accepting one press into the attempt buffer.
type Outcome int

const (
	Continuing Outcome = iota
	Correct
	Incorrect
)

func (o Outcome) String() string {
	switch o {
	case Continuing:
		return "continuing"
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// secret is the unlock sequence. It is fixed at build time; the installation
// is re-keyed by rebuilding the service. The inert line can never appear
// here, so any press routed through it guarantees a failed attempt.
var secret = [Length]types.ButtonID{
	types.ButtonA,
	types.ButtonT,
	types.ButtonI,
	types.ButtonO,
	types.ButtonY,
}

// Tracker accumulates accepted presses into a fixed-capacity attempt buffer
// and compares a full attempt against the secret sequence. It does no
// locking of its own; the owning system serializes access.
type Tracker struct {
	secret  [Length]types.ButtonID
	attempt [Length]types.ButtonID
	n       int
}

func NewTracker() *Tracker {
	return &Tracker{secret: secret}
}

// NewTrackerWithSecret builds a tracker around an alternate sequence.
// Used by tests; production code always uses the compiled-in secret.
func NewTrackerWithSecret(s [Length]types.ButtonID) *Tracker {
	return &Tracker{secret: s}
}

// AcceptPress appends one press to the attempt. The attempt is evaluated
// only when it reaches exactly Length elements; until then the outcome is
// Continuing. After a Correct or Incorrect outcome the caller must Clear
// before further presses are accepted.
func (t *Tracker) AcceptPress(id types.ButtonID) (Outcome, error) {
	if t.n >= Length {
		return Incorrect, fmt.Errorf("attempt already holds %d presses, clear before accepting more", Length)
	}

	t.attempt[t.n] = id
	t.n++

	if t.n < Length {
		return Continuing, nil
	}

	for i := range t.secret {
		if t.attempt[i] != t.secret[i] {
			return Incorrect, nil
		}
	}
	return Correct, nil
}

// Len is the number of presses accepted so far.
func (t *Tracker) Len() int {
	return t.n
}

// Clear empties the attempt buffer. Attempts only ever shrink by a full
// clear, never element by element.
func (t *Tracker) Clear() {
	t.n = 0
}
