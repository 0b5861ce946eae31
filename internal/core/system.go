package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/librefsm"

	"keypad-service/internal/feedback"
	"keypad-service/internal/fsm"
	"keypad-service/internal/hardware"
	"keypad-service/internal/logger"
	"keypad-service/internal/messaging"
	"keypad-service/internal/sequence"
	"keypad-service/internal/types"
)

const (
	// PollInterval is one control loop tick. It must divide the feedback
	// flicker period so the win dance advances on tick boundaries.
	PollInterval = 10 * time.Millisecond

	// PressLockout is the minimum spacing between registered presses.
	// A button still held when the lockout expires registers again; there
	// is no edge detection.
	PressLockout = 300 * time.Millisecond
)

// resetButtons is the pair that must be held, alone, to re-arm an open door.
var resetButtons = [2]types.ButtonID{types.ButtonA, types.ButtonY}

// KeypadSystem owns the control loop: it polls the input lines, feeds
// presses to the sequence tracker, drives the LEDs and lock relay, and
// reports over Redis when available.
type KeypadSystem struct {
	logger  *logger.Logger
	io      HardwareIO
	redis   MessagingClient
	machine *librefsm.Machine

	// mu guards tracker, lastPressAt and danceStart. Entry actions run on
	// the FSM goroutine while the control loop ticks on its own, so the
	// attempt buffer has two writers once staff commands are in play.
	mu          sync.Mutex
	tracker     *sequence.Tracker
	lastPressAt time.Time
	danceStart  time.Time

	// clock is swapped out in tests
	clock func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewKeypadSystem(io HardwareIO, redis MessagingClient, l *logger.Logger) *KeypadSystem {
	return &KeypadSystem{
		logger:  l.WithTag("Keypad"),
		io:      io,
		redis:   redis,
		tracker: sequence.NewTracker(),
		clock:   time.Now,
		done:    make(chan struct{}),
	}
}

func (k *KeypadSystem) Start() error {
	k.logger.Infof("Starting keypad system")

	if err := k.io.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	// Power-on contract: relay de-energized (door open), all LEDs dark.
	if err := k.io.WriteDigitalOutput(hardware.LockRelay, false); err != nil {
		return fmt.Errorf("failed to release lock relay: %w", err)
	}
	if err := k.applyPattern(feedback.AllOff()); err != nil {
		return fmt.Errorf("failed to clear LEDs: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel

	if err := k.initFSM(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start state machine: %w", err)
	}

	// Redis is diagnostics and staff commands only. The door must keep
	// working when it is unreachable.
	k.redis.SetCallbacks(messaging.Callbacks{
		StateCallback: k.HandleStateCommand,
	})
	if err := k.redis.Connect(); err != nil {
		k.logger.Warnf("Redis unavailable, running without diagnostics: %v", err)
		k.redis = nil
	} else {
		if err := k.redis.StartListening(); err != nil {
			k.logger.Warnf("Failed to start Redis listeners: %v", err)
		}
		k.publishDoorState()
	}

	go k.run(ctx)
	return nil
}

func (k *KeypadSystem) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.tick(); err != nil {
				k.logger.Errorf("Control loop error: %v", err)
			}
		}
	}
}

// tick runs one pass of the control loop. Input scanning only happens in
// the states that consume input; the failure hold and the reset windows
// suspend the keypad entirely.
func (k *KeypadSystem) tick() error {
	switch k.machine.CurrentState() {
	case fsm.StateLocked:
		return k.tickLocked()
	case fsm.StateWinDance:
		return k.tickWinDance()
	case fsm.StateUnlocked:
		return k.tickUnlocked()
	default:
		return nil
	}
}

func (k *KeypadSystem) tickLocked() error {
	k.mu.Lock()
	now := k.clock()
	inLockout := now.Sub(k.lastPressAt) < PressLockout
	k.mu.Unlock()

	if !inLockout {
		if id := k.scanPressed(); id != "" {
			k.mu.Lock()
			k.lastPressAt = now
			k.mu.Unlock()

			if err := k.handlePress(id); err != nil {
				return err
			}
		}
	}

	// A completed attempt has already left the locked state; its entry
	// action owns the LEDs from here.
	if k.machine.CurrentState() != fsm.StateLocked {
		return nil
	}

	k.mu.Lock()
	n := k.tracker.Len()
	k.mu.Unlock()
	return k.applyPattern(feedback.ProgressPattern(n))
}

func (k *KeypadSystem) handlePress(id types.ButtonID) error {
	letter := id.Letter()
	k.logger.Infof("Button press registered: %s", letter)
	if k.redis != nil {
		k.redis.PublishButtonEvent(letter)
	}

	// Release mu before sendEvent: the triggered entry action runs on the
	// FSM goroutine and takes the same lock to clear the tracker.
	k.mu.Lock()
	outcome, err := k.tracker.AcceptPress(id)
	k.mu.Unlock()
	if err != nil {
		return err
	}

	switch outcome {
	case sequence.Correct:
		k.logger.Infof("Correct sequence entered")
		if k.redis != nil {
			k.redis.PublishOutcome(outcome.String())
		}
		return k.sendEvent(fsm.EvSequenceCorrect)
	case sequence.Incorrect:
		k.logger.Infof("Incorrect sequence entered")
		if k.redis != nil {
			k.redis.PublishOutcome(outcome.String())
		}
		return k.sendEvent(fsm.EvSequenceIncorrect)
	default:
		return nil
	}
}

// scanPressed returns the first pressed line in the fixed scan order, or ""
// when nothing is pressed. At most one press registers per tick; with two
// buttons held, scan order decides.
func (k *KeypadSystem) scanPressed() types.ButtonID {
	for _, id := range types.ScanOrder {
		pressed, err := k.io.ReadDigitalInput(string(id))
		if err != nil {
			k.logger.Warnf("Failed to read input %s: %v", id, err)
			continue
		}
		if pressed {
			return id
		}
	}
	return ""
}

func (k *KeypadSystem) tickWinDance() error {
	k.mu.Lock()
	elapsed := k.clock().Sub(k.danceStart)
	k.mu.Unlock()

	step := int(elapsed / feedback.Flicker)
	if step >= feedback.DanceSteps {
		if err := k.applyPattern(feedback.AllOff()); err != nil {
			return err
		}
		return k.sendEvent(fsm.EvDanceComplete)
	}
	return k.applyPattern(feedback.DanceFrame(step))
}

func (k *KeypadSystem) tickUnlocked() error {
	if k.isResetHeld() {
		return k.sendEvent(fsm.EvResetGestureSeen)
	}
	return k.applyPattern(feedback.AllOff())
}

// isResetHeld reports whether exactly the two reset buttons are pressed.
// Any other line held alongside them defeats the gesture.
func (k *KeypadSystem) isResetHeld() bool {
	for _, id := range types.ScanOrder {
		pressed, err := k.io.ReadDigitalInput(string(id))
		if err != nil {
			k.logger.Warnf("Failed to read input %s: %v", id, err)
			return false
		}
		want := id == resetButtons[0] || id == resetButtons[1]
		if pressed != want {
			return false
		}
	}
	return true
}

func (k *KeypadSystem) applyPattern(pattern types.LedPattern) error {
	for i, channel := range hardware.LedChannels {
		if err := k.io.WriteDigitalOutput(channel, pattern[i]); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeypadSystem) setLocked(locked bool) error {
	return k.io.WriteDigitalOutput(hardware.LockRelay, locked)
}

// HandleStateCommand processes staff lock/unlock commands from Redis.
func (k *KeypadSystem) HandleStateCommand(cmd string) error {
	k.logger.Infof("Received state command: %s", cmd)
	switch cmd {
	case "lock":
		return k.sendEvent(fsm.EvStaffLock)
	case "unlock":
		return k.sendEvent(fsm.EvStaffUnlock)
	default:
		return fmt.Errorf("unknown state command: %s", cmd)
	}
}

func (k *KeypadSystem) publishDoorState() {
	if k.redis == nil {
		return
	}
	state := stateIDToDoorState(k.machine.CurrentState())
	if err := k.redis.PublishDoorState(state); err != nil {
		k.logger.Warnf("Failed to publish door state: %v", err)
	}
}

func (k *KeypadSystem) Shutdown() {
	k.logger.Infof("Shutting down keypad system")

	if k.cancel != nil {
		k.cancel()
		<-k.done
	}

	if k.redis != nil {
		if err := k.redis.Close(); err != nil {
			k.logger.Warnf("Error closing Redis client: %v", err)
		}
	}

	// Leave the door open and the panel dark.
	if err := k.setLocked(false); err != nil {
		k.logger.Errorf("Failed to release lock relay: %v", err)
	}
	if err := k.applyPattern(feedback.AllOff()); err != nil {
		k.logger.Warnf("Failed to clear LEDs: %v", err)
	}

	k.io.Cleanup()
	k.logger.Infof("Shutdown complete")
}
