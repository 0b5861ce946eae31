package feedback

import (
	"time"

	"keypad-service/internal/types"
)

const (
	// Flicker is how long each dance frame holds one LED lit.
	Flicker = 100 * time.Millisecond

	// NumFlickers is the number of full left-to-right sweeps in the dance.
	NumFlickers = 5

	// DanceSteps is the total number of dance frames.
	DanceSteps = NumFlickers * types.LedCount
)

// ProgressPattern lights exactly the LED matching the number of presses
// accepted so far. Out-of-range counts leave the panel dark.
func ProgressPattern(n int) types.LedPattern {
	var p types.LedPattern
	if n >= 0 && n < types.LedCount {
		p[n] = true
	}
	return p
}

// FailurePattern is the hold shown after a wrong attempt: the last LED lit,
// its neighbour explicitly dark, everything else off.
func FailurePattern() types.LedPattern {
	var p types.LedPattern
	p[types.LedCount-2] = false
	p[types.LedCount-1] = true
	return p
}

// DanceFrame returns one frame of the win animation: a single lit LED
// traveling left to right, wrapping at the end of each sweep. Steps outside
// the animation leave the panel dark.
func DanceFrame(step int) types.LedPattern {
	var p types.LedPattern
	if step >= 0 && step < DanceSteps {
		p[step%types.LedCount] = true
	}
	return p
}

// AllOff darkens the whole panel.
func AllOff() types.LedPattern {
	return types.LedPattern{}
}
