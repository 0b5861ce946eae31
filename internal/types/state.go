package types

// DoorState is the published lock state. Transient control states (failure
// hold, win dance, reset confirmation) collapse onto these two values.
type DoorState string

const (
	DoorUnlocked DoorState = "unlocked"
	DoorLocked   DoorState = "locked"
)

// ButtonID identifies one of the six logical input lines. The keypad carries
// twelve lettered buttons, but every letter outside the secret sequence is
// wired to a single shared inert line.
type ButtonID string

const (
	ButtonA     ButtonID = "button_a"
	ButtonT     ButtonID = "button_t"
	ButtonI     ButtonID = "button_i"
	ButtonO     ButtonID = "button_o"
	ButtonY     ButtonID = "button_y"
	ButtonInert ButtonID = "button_other"
)

// ScanOrder is the fixed input priority. The control loop scans lines in
// this order and accepts the first active one, which resolves ties when
// multiple buttons are active in the same tick.
var ScanOrder = [...]ButtonID{ButtonA, ButtonT, ButtonI, ButtonO, ButtonY, ButtonInert}

// Letter returns the keypad letter for diagnostics. The inert line covers
// several letters, so it reports as "?".
func (b ButtonID) Letter() string {
	switch b {
	case ButtonA:
		return "A"
	case ButtonT:
		return "T"
	case ButtonI:
		return "I"
	case ButtonO:
		return "O"
	case ButtonY:
		return "Y"
	default:
		return "?"
	}
}

// LedCount is the number of progress LEDs on the panel.
const LedCount = 5

// LedPattern maps each LED position to on/off. It is derived from control
// state every tick and never stored.
type LedPattern [LedCount]bool
