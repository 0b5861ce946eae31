package hardware

const GpioKeysInput = "/dev/input/by-path/platform-gpio-keys-event"

// Evdev keycodes reported by the gpio-keys device for the six logical
// lines. The device tree assigns every letter outside the secret sequence
// the same code, so the whole rest of the keypad reads back as one shared
// inert line. gpio-keys also configures the pull-up idle bias and debounce,
// so values cached here are already stable.
const (
	KeyButtonA     = 30 // KEY_A
	KeyButtonT     = 20 // KEY_T
	KeyButtonI     = 23 // KEY_I
	KeyButtonO     = 24 // KEY_O
	KeyButtonY     = 21 // KEY_Y
	KeyButtonOther = 11 // KEY_0, shared line for all remaining letters
)

// LockRelay is the output channel driving the magnetic lock. The relay is
// wired so the de-energized state leaves the door unlocked; a power or
// control fault therefore fails open.
const LockRelay = "lock_relay"

// LedChannels maps LED panel positions, left to right, to output channels.
var LedChannels = [5]string{"led_0", "led_1", "led_2", "led_3", "led_4"}

// Pin addresses one GPIO output line.
type Pin struct {
	Chip int
	Line int
}

// DoMappings is the default output wiring. Deployments with different
// wiring override it through the YAML config.
var DoMappings = map[string]Pin{
	"led_0":    {0, 17},
	"led_1":    {0, 27},
	"led_2":    {0, 22},
	"led_3":    {0, 23},
	"led_4":    {0, 24},
	LockRelay:  {0, 25},
}
