package fsm

import (
	"time"

	"github.com/librescoot/librefsm"
)

// Timing constants
const (
	// FailureHoldTime is how long the failure pattern is held after a
	// wrong attempt before the keypad re-arms.
	FailureHoldTime = 1000 * time.Millisecond

	// ResetWindowTime is one confirmation window of the staff reset
	// gesture. The gesture is sampled once to enter the first window and
	// re-sampled at the end of each window; two consecutive windows must
	// pass. The double confirmation guards against accidental momentary
	// double-touches on an open door.
	ResetWindowTime = 3000 * time.Millisecond
)

// NewDefinition creates the door FSM definition. The actions parameter
// provides the implementation for state entry effects and the reset guard.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateUnlocked,
			librefsm.WithOnEnter(actions.EnterUnlocked),
		).
		State(StateLocked,
			librefsm.WithOnEnter(actions.EnterLocked),
		).
		State(StateFailureHold,
			librefsm.WithOnEnter(actions.EnterFailureHold),
			librefsm.WithTimeout(FailureHoldTime, EvFailureHoldElapsed),
		).
		State(StateWinDance,
			librefsm.WithOnEnter(actions.EnterWinDance),
		).
		State(StateResetConfirmFirst,
			librefsm.WithOnEnter(actions.EnterResetConfirmFirst),
			librefsm.WithTimeout(ResetWindowTime, EvResetWindowElapsed),
		).
		State(StateResetConfirmSecond,
			librefsm.WithOnEnter(actions.EnterResetConfirmSecond),
			librefsm.WithTimeout(ResetWindowTime, EvResetWindowElapsed),
		).

		// === Transitions ===

		// Sequence evaluation while locked
		Transition(StateLocked, EvSequenceCorrect, StateWinDance).
		Transition(StateLocked, EvSequenceIncorrect, StateFailureHold).

		// Failure hold re-arms the keypad; the win dance opens the door
		Transition(StateFailureHold, EvFailureHoldElapsed, StateLocked).
		Transition(StateWinDance, EvDanceComplete, StateUnlocked).

		// Staff reset gesture: the guarded transition is evaluated first;
		// a broken gesture falls through to unlocked with no state change.
		Transition(StateUnlocked, EvResetGestureSeen, StateResetConfirmFirst).
		Transition(StateResetConfirmFirst, EvResetWindowElapsed, StateResetConfirmSecond,
			librefsm.WithGuard(actions.IsResetGestureHeld),
		).
		Transition(StateResetConfirmFirst, EvResetWindowElapsed, StateUnlocked).
		Transition(StateResetConfirmSecond, EvResetWindowElapsed, StateLocked,
			librefsm.WithGuard(actions.IsResetGestureHeld),
		).
		Transition(StateResetConfirmSecond, EvResetWindowElapsed, StateUnlocked).

		// Staff overrides via the command channel
		Transition(StateUnlocked, EvStaffLock, StateLocked).
		Transition(StateLocked, EvStaffUnlock, StateUnlocked).

		// Power-on default: the door fails open
		Initial(StateUnlocked)
}
