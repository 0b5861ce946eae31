package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for door state machine actions.
// KeypadSystem implements this interface to handle state entry effects and
// to provide the guard that re-samples the staff reset gesture.
type Actions interface {
	// State entry actions
	EnterUnlocked(c *librefsm.Context) error
	EnterLocked(c *librefsm.Context) error
	EnterFailureHold(c *librefsm.Context) error
	EnterWinDance(c *librefsm.Context) error
	EnterResetConfirmFirst(c *librefsm.Context) error
	EnterResetConfirmSecond(c *librefsm.Context) error

	// IsResetGestureHeld re-samples the two-button hold at the end of a
	// confirmation window. Both windows must pass for the door to re-arm.
	IsResetGestureHeld(c *librefsm.Context) bool
}
