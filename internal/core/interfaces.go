package core

import (
	"keypad-service/internal/messaging"
	"keypad-service/internal/types"
)

// MessagingClient defines the interface for Redis messaging operations needed by KeypadSystem
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// Diagnostics
	PublishDoorState(state types.DoorState) error
	PublishButtonEvent(letter string) error
	PublishOutcome(outcome string) error
	PublishResetNotice(phase string) error
}

// HardwareIO defines the interface for hardware I/O operations needed by KeypadSystem
type HardwareIO interface {
	Initialize() error
	Cleanup()

	// Digital I/O
	ReadDigitalInput(channel string) (bool, error)
	WriteDigitalOutput(channel string, value bool) error
}
