package fsm

import "github.com/librescoot/librefsm"

// Door control states
const (
	StateUnlocked           librefsm.StateID = "unlocked"
	StateLocked             librefsm.StateID = "locked"
	StateFailureHold        librefsm.StateID = "failure-hold"
	StateWinDance           librefsm.StateID = "win-dance"
	StateResetConfirmFirst  librefsm.StateID = "reset-confirm-first"
	StateResetConfirmSecond librefsm.StateID = "reset-confirm-second"
)

// Door control events
const (
	// Sequence outcomes from the control loop
	EvSequenceCorrect   librefsm.EventID = "sequence-correct"
	EvSequenceIncorrect librefsm.EventID = "sequence-incorrect"

	// Animation and hold completion
	EvDanceComplete      librefsm.EventID = "dance-complete"
	EvFailureHoldElapsed librefsm.EventID = "failure-hold-elapsed"

	// Staff reset gesture
	EvResetGestureSeen   librefsm.EventID = "reset-gesture-seen"
	EvResetWindowElapsed librefsm.EventID = "reset-window-elapsed"

	// Staff commands (from Redis)
	EvStaffLock   librefsm.EventID = "staff-lock"
	EvStaffUnlock librefsm.EventID = "staff-unlock"
)
