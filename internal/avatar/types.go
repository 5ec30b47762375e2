// Package avatar implements the avatar animation state machine: a finite
// set of states, an ordered transition table with guards, and synchronous
// listener notification. The machine holds no I/O and never blocks; event
// sources (mic, TTS, timers) drive it from outside.
package avatar

import "time"

// State is one of the avatar's animation states.
type State string

const (
	StateIdle       State = "IDLE"
	StateAware      State = "AWARE"
	StateListening  State = "LISTENING"
	StateThinking   State = "THINKING"
	StateSpeaking   State = "SPEAKING"
	StateConfirming State = "CONFIRMING"
	StateError      State = "ERROR"
	StateSleep      State = "SLEEP"
)

// AllStates lists every avatar state, used for transition-graph validation.
var AllStates = []State{
	StateIdle, StateAware, StateListening, StateThinking,
	StateSpeaking, StateConfirming, StateError, StateSleep,
}

// EventType identifies an external stimulus.
type EventType string

const (
	EventUserDetected         EventType = "USER_DETECTED"
	EventUserLost             EventType = "USER_LOST"
	EventMicActivated         EventType = "MIC_ACTIVATED"
	EventMicDeactivated       EventType = "MIC_DEACTIVATED"
	EventAudioInputStart      EventType = "AUDIO_INPUT_START"
	EventAudioInputEnd        EventType = "AUDIO_INPUT_END"
	EventProcessingStart      EventType = "PROCESSING_START"
	EventProcessingEnd        EventType = "PROCESSING_END"
	EventTTSStart             EventType = "TTS_START"
	EventTTSEnd               EventType = "TTS_END"
	EventConfirmationRequired EventType = "CONFIRMATION_REQUIRED"
	EventConfirmationReceived EventType = "CONFIRMATION_RECEIVED"
	EventErrorOccurred        EventType = "ERROR_OCCURRED"
	EventErrorDismissed       EventType = "ERROR_DISMISSED"
	EventSleepTimer           EventType = "SLEEP_TIMER"
	EventWake                 EventType = "WAKE"
)

// Event is one stimulus, optionally carrying a payload (error message,
// confirmation prompt, confirmation answer).
type Event struct {
	Type    EventType
	Payload string
}

// Context is the mutable data attached to the current state. It is
// replaced wholesale on every transition, never partially mutated outside
// the machine.
type Context struct {
	PreviousState      State
	EnteredAt          time.Time
	ErrorMessage       string
	ConfirmationPrompt string
	SpeakingEndTime    *time.Time
}

// Guard is a pure predicate checked before a transition fires. A rejecting
// guard drops the event silently.
type Guard func(ctx Context, now time.Time) bool

// Transition is one row of the transition table. From may list several
// source states; the first matching row wins.
type Transition struct {
	From  []State
	Event EventType
	To    State
	Guard Guard
}

// Listener receives every successful state change, including forced ones.
type Listener func(state State, ctx Context, previous State)
