package core

import (
	"context"

	"github.com/librescoot/librefsm"

	"keypad-service/internal/feedback"
	"keypad-service/internal/fsm"
	"keypad-service/internal/types"
)

// Ensure KeypadSystem implements fsm.Actions
var _ fsm.Actions = (*KeypadSystem)(nil)

// stateIDToDoorState collapses the internal control states onto the two
// door states visible from outside. The failure hold and the win dance are
// both still "locked": the relay has not released yet.
func stateIDToDoorState(id librefsm.StateID) types.DoorState {
	switch id {
	case fsm.StateLocked, fsm.StateFailureHold, fsm.StateWinDance:
		return types.DoorLocked
	default:
		return types.DoorUnlocked
	}
}

// initFSM builds and starts the librefsm machine
func (k *KeypadSystem) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(k)
	machine, err := def.Build()
	if err != nil {
		return err
	}
	k.machine = machine

	k.machine.OnStateChange(func(from, to librefsm.StateID) {
		k.logger.Infof("State transition: %s -> %s", from, to)

		// Publish directly from the known new state; calling back into the
		// machine here would deadlock on the FSM mutex.
		oldDoor := stateIDToDoorState(from)
		newDoor := stateIDToDoorState(to)
		if k.redis != nil && oldDoor != newDoor {
			if err := k.redis.PublishDoorState(newDoor); err != nil {
				k.logger.Warnf("Failed to publish door state: %v", err)
			}
		}
	})

	if err := k.machine.Start(ctx); err != nil {
		return err
	}

	k.logger.Infof("librefsm state machine started")
	return nil
}

func (k *KeypadSystem) sendEvent(id librefsm.EventID) error {
	return k.machine.SendSync(librefsm.Event{ID: id})
}

func (k *KeypadSystem) EnterUnlocked(c *librefsm.Context) error {
	k.mu.Lock()
	k.tracker.Clear()
	k.mu.Unlock()
	if err := k.setLocked(false); err != nil {
		return err
	}
	return k.applyPattern(feedback.AllOff())
}

func (k *KeypadSystem) EnterLocked(c *librefsm.Context) error {
	k.mu.Lock()
	k.tracker.Clear()
	k.mu.Unlock()
	if err := k.setLocked(true); err != nil {
		return err
	}
	return k.applyPattern(feedback.ProgressPattern(0))
}

func (k *KeypadSystem) EnterFailureHold(c *librefsm.Context) error {
	k.logger.Infof("Holding failure pattern")
	return k.applyPattern(feedback.FailurePattern())
}

func (k *KeypadSystem) EnterWinDance(c *librefsm.Context) error {
	k.mu.Lock()
	k.danceStart = k.clock()
	k.mu.Unlock()
	return k.applyPattern(feedback.DanceFrame(0))
}

func (k *KeypadSystem) EnterResetConfirmFirst(c *librefsm.Context) error {
	k.logger.Infof("Reset gesture detected, sampling first hold window")
	if k.redis != nil {
		k.redis.PublishResetNotice("sampling")
	}
	return nil
}

func (k *KeypadSystem) EnterResetConfirmSecond(c *librefsm.Context) error {
	k.logger.Infof("First hold window passed, confirming second window")
	if k.redis != nil {
		k.redis.PublishResetNotice("confirming")
	}
	return nil
}

// IsResetGestureHeld re-samples the gesture exactly when a confirmation
// window elapses. A read error defeats the gesture; the door stays open.
func (k *KeypadSystem) IsResetGestureHeld(c *librefsm.Context) bool {
	return k.isResetHeld()
}
