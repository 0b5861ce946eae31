package hardware

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

const (
	evKey = 0x01

	// EVIOCGKEY(128): read the current key bitmap from the input device.
	eviocgkey = 0x80804518
)

// InputEvent mirrors the kernel input_event layout on the 32-bit time ABI
// used by the target board.
type InputEvent struct {
	Sec   int32
	Usec  int32
	Type  uint16
	Code  uint16
	Value int32
}

// LinuxHardwareIO exposes the keypad's six debounced input lines and its
// six discrete outputs (five LEDs plus the lock relay). Inputs arrive
// through a gpio-keys evdev device, which handles idle bias and debouncing
// in the kernel; outputs are driven through GPIO character-device lines.
type LinuxHardwareIO struct {
	logger          *log.Logger
	inputDevicePath string
	inputFile       *os.File
	outputs         map[string]Pin
	chips           map[int]*gpiocdev.Chip
	lines           map[string]*gpiocdev.Line
	mu              sync.RWMutex
	stopChan        chan struct{}
	activeKeys      map[uint16]bool
	unknownKeys     map[uint16]bool
}

func NewLinuxHardwareIO(inputDevicePath string, outputs map[string]Pin) *LinuxHardwareIO {
	if inputDevicePath == "" {
		inputDevicePath = GpioKeysInput
	}
	if outputs == nil {
		outputs = DoMappings
	}
	return &LinuxHardwareIO{
		logger:          log.New(log.Writer(), "HardwareIO: ", log.LstdFlags),
		inputDevicePath: inputDevicePath,
		outputs:         outputs,
		chips:           make(map[int]*gpiocdev.Chip),
		lines:           make(map[string]*gpiocdev.Line),
		stopChan:        make(chan struct{}),
		activeKeys:      make(map[uint16]bool),
		unknownKeys:     make(map[uint16]bool),
	}
}

func (io *LinuxHardwareIO) Initialize() error {
	io.logger.Printf("Initializing hardware IO")

	for name, pin := range io.outputs {
		chip, ok := io.chips[pin.Chip]
		if !ok {
			var err error
			chip, err = gpiocdev.NewChip(fmt.Sprintf("gpiochip%d", pin.Chip))
			if err != nil {
				return fmt.Errorf("failed to open GPIO chip %d: %w", pin.Chip, err)
			}
			io.chips[pin.Chip] = chip
		}

		// All outputs start low: LEDs dark, relay de-energized, door open.
		line, err := chip.RequestLine(pin.Line,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("keypad-service"))
		if err != nil {
			return fmt.Errorf("failed to request GPIO line %d: %w", pin.Line, err)
		}

		io.lines[name] = line
		io.logger.Printf("Configured DO %s: chip=%d, line=%d", name, pin.Chip, pin.Line)
	}

	io.logger.Printf("Opening input device: %s", io.inputDevicePath)
	var err error
	io.inputFile, err = os.OpenFile(io.inputDevicePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open input device %s: %w", io.inputDevicePath, err)
	}

	if err := io.readInitialState(); err != nil {
		io.logger.Printf("Warning: failed to read initial input states: %v", err)
	}

	go io.monitorInputs()

	return nil
}

// readInitialState seeds the key cache from the EVIOCGKEY bitmap so buttons
// held across a service restart are not missed.
func (io *LinuxHardwareIO) readInitialState() error {
	buffer := make([]byte, 128)
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		io.inputFile.Fd(),
		uintptr(eviocgkey),
		uintptr(unsafe.Pointer(&buffer[0])),
	)
	if errno != 0 {
		return fmt.Errorf("EVIOCGKEY ioctl failed: %v", errno)
	}

	io.mu.Lock()
	defer io.mu.Unlock()

	keycodes := []uint16{
		KeyButtonA, KeyButtonT, KeyButtonI, KeyButtonO, KeyButtonY, KeyButtonOther,
	}

	for _, code := range keycodes {
		byteOffset := int(code / 8)
		bitOffset := code % 8
		if byteOffset < len(buffer) {
			if buffer[byteOffset]&(1<<bitOffset) != 0 {
				io.activeKeys[code] = true
				io.logger.Printf("Initial state: %s (code %d) is pressed", io.mapKeycode(code), code)
			}
		}
	}

	return nil
}

// monitorInputs reads kernel input events until stopped. Cleanup owns the
// file; closing it there also unblocks a pending Read here.
func (io *LinuxHardwareIO) monitorInputs() {
	buffer := make([]byte, 16)

	for {
		select {
		case <-io.stopChan:
			io.logger.Printf("Stopping input monitoring")
			return
		default:
			n, err := io.inputFile.Read(buffer)
			if err != nil {
				io.logger.Printf("Error reading input: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if n != len(buffer) {
				io.logger.Printf("Incomplete read: got %d bytes, expected %d", n, len(buffer))
				continue
			}

			typ := binary.LittleEndian.Uint16(buffer[8:10])
			code := binary.LittleEndian.Uint16(buffer[10:12])
			val := int32(binary.LittleEndian.Uint32(buffer[12:16]))

			if typ == evKey {
				io.handleKeyEvent(&InputEvent{
					Type:  typ,
					Code:  code,
					Value: val,
				})
			}
		}
	}
}

func (io *LinuxHardwareIO) handleKeyEvent(event *InputEvent) {
	// Autorepeat events carry values above 1 and are not state changes.
	if event.Value > 1 {
		return
	}

	code := event.Code

	io.mu.Lock()
	defer io.mu.Unlock()

	if io.mapKeycode(code) == "" {
		// Keycodes outside the mapped set read back through the inert
		// line, but are tracked per code: a stray release of one unknown
		// key must not clear a genuinely held inert button.
		if event.Value == 0 {
			delete(io.unknownKeys, code)
		} else {
			io.unknownKeys[code] = true
		}
		return
	}

	if event.Value == 0 {
		delete(io.activeKeys, code)
	} else {
		io.activeKeys[code] = true
	}
}

func (io *LinuxHardwareIO) mapKeycode(code uint16) string {
	switch code {
	case KeyButtonA:
		return "button_a"
	case KeyButtonT:
		return "button_t"
	case KeyButtonI:
		return "button_i"
	case KeyButtonO:
		return "button_o"
	case KeyButtonY:
		return "button_y"
	case KeyButtonOther:
		return "button_other"
	default:
		return ""
	}
}

func (io *LinuxHardwareIO) getKeycodeForChannel(channel string) uint16 {
	switch channel {
	case "button_a":
		return KeyButtonA
	case "button_t":
		return KeyButtonT
	case "button_i":
		return KeyButtonI
	case "button_o":
		return KeyButtonO
	case "button_y":
		return KeyButtonY
	case "button_other":
		return KeyButtonOther
	default:
		return 0
	}
}

// ReadDigitalInput returns the debounced pressed state of a logical input
// line, as maintained by the input monitor.
func (io *LinuxHardwareIO) ReadDigitalInput(channel string) (bool, error) {
	keycode := io.getKeycodeForChannel(channel)
	if keycode == 0 {
		return false, fmt.Errorf("unknown input channel: %s", channel)
	}

	io.mu.RLock()
	defer io.mu.RUnlock()
	if keycode == KeyButtonOther && len(io.unknownKeys) > 0 {
		return true, nil
	}
	return io.activeKeys[keycode], nil
}

func (io *LinuxHardwareIO) WriteDigitalOutput(channel string, value bool) error {
	io.mu.RLock()
	line, ok := io.lines[channel]
	io.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown digital output channel: %s", channel)
	}

	val := 0
	if value {
		val = 1
	}

	if err := line.SetValue(val); err != nil {
		return fmt.Errorf("failed to set DO %s=%v: %w", channel, value, err)
	}

	return nil
}

func (io *LinuxHardwareIO) Cleanup() {
	close(io.stopChan)

	io.mu.Lock()
	defer io.mu.Unlock()

	io.logger.Printf("Cleaning up hardware resources")

	if io.inputFile != nil {
		io.inputFile.Close()
	}

	for name, line := range io.lines {
		line.Close()
		io.logger.Printf("Closed GPIO line for %s", name)
	}

	for id, chip := range io.chips {
		chip.Close()
		io.logger.Printf("Closed GPIO chip %d", id)
	}

	io.logger.Printf("Hardware cleanup complete")
}
