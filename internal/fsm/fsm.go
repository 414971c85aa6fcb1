// Package fsm defines the display state machine for the press-and-hold controller.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StatePendingHold  State = "pending_hold"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateTranscribing State = "transcribing"
)

const (
	EventPress          Event = "press"
	EventTap            Event = "tap"
	EventCaptureStarted Event = "capture_started"
	EventCaptureAborted Event = "capture_aborted"
	EventStop           Event = "stop"
	EventDiscard        Event = "discard"
	EventUpload         Event = "upload"
	EventTranscribed    Event = "transcribed"
)

// Transition returns the next state for event, or current plus an error when
// the event is not legal from current.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventPress:
			return StatePendingHold, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePendingHold:
		switch event {
		case EventTap, EventCaptureAborted:
			return StateIdle, nil
		case EventCaptureStarted:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventDiscard:
			return StateIdle, nil
		case EventUpload:
			return StateTranscribing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateTranscribing:
		switch event {
		case EventTranscribed:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Status collapses a state into the three-valued projection shown to users.
func Status(state State) string {
	switch state {
	case StateRecording, StateStopping:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	default:
		return "idle"
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
