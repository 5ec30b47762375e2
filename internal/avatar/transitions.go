package avatar

import "time"

// lingeringElapsed gates SPEAKING→IDLE: the transition is allowed only
// once LingeringDuration has passed since TTS ended. The machine does not
// self-schedule; callers redispatch TTS_END (or use a timer) until the
// guard passes.
func lingeringElapsed(ctx Context, now time.Time) bool {
	if ctx.SpeakingEndTime == nil {
		return false
	}
	return now.Sub(*ctx.SpeakingEndTime) >= LingeringDuration
}

// transitions is the ordered transition table. Order matters: Dispatch
// uses the first row whose From includes the current state and whose
// event type matches.
var transitions = []Transition{
	// IDLE
	{From: []State{StateIdle}, Event: EventMicActivated, To: StateAware},
	{From: []State{StateIdle}, Event: EventSleepTimer, To: StateSleep},
	{From: []State{StateIdle}, Event: EventUserDetected, To: StateAware},

	// AWARE
	{From: []State{StateAware}, Event: EventAudioInputStart, To: StateListening},
	{From: []State{StateAware}, Event: EventMicActivated, To: StateListening},
	{From: []State{StateAware}, Event: EventUserLost, To: StateIdle},
	{From: []State{StateAware}, Event: EventMicDeactivated, To: StateIdle},
	{From: []State{StateAware}, Event: EventSleepTimer, To: StateSleep},

	// LISTENING
	{From: []State{StateListening}, Event: EventProcessingStart, To: StateThinking},
	{From: []State{StateListening}, Event: EventMicDeactivated, To: StateIdle},
	{From: []State{StateListening}, Event: EventErrorOccurred, To: StateError},

	// THINKING
	{From: []State{StateThinking}, Event: EventTTSStart, To: StateSpeaking},
	{From: []State{StateThinking}, Event: EventConfirmationRequired, To: StateConfirming},
	{From: []State{StateThinking}, Event: EventErrorOccurred, To: StateError},
	// Processing ended without TTS (quick response).
	{From: []State{StateThinking}, Event: EventProcessingEnd, To: StateIdle},

	// SPEAKING
	{From: []State{StateSpeaking}, Event: EventTTSEnd, To: StateIdle, Guard: lingeringElapsed},
	{From: []State{StateSpeaking}, Event: EventProcessingStart, To: StateThinking},
	{From: []State{StateSpeaking}, Event: EventErrorOccurred, To: StateError},
	// Mic during speech: stay put, transition after TTS ends.
	{From: []State{StateSpeaking}, Event: EventMicActivated, To: StateSpeaking},

	// CONFIRMING
	{From: []State{StateConfirming}, Event: EventConfirmationReceived, To: StateThinking},
	{From: []State{StateConfirming}, Event: EventErrorOccurred, To: StateError},
	{From: []State{StateConfirming}, Event: EventMicDeactivated, To: StateIdle},

	// ERROR
	{From: []State{StateError}, Event: EventErrorDismissed, To: StateIdle},
	{From: []State{StateError}, Event: EventUserDetected, To: StateAware},
	{From: []State{StateError}, Event: EventMicActivated, To: StateAware},

	// SLEEP
	{From: []State{StateSleep}, Event: EventWake, To: StateIdle},
	{From: []State{StateSleep}, Event: EventUserDetected, To: StateAware},
	{From: []State{StateSleep}, Event: EventMicActivated, To: StateAware},
}

// findTransition returns the first table row matching the current state
// and event type, or nil when the event has no transition from here.
func findTransition(current State, eventType EventType) *Transition {
	for i := range transitions {
		t := &transitions[i]
		if t.Event != eventType {
			continue
		}
		for _, from := range t.From {
			if from == current {
				return t
			}
		}
	}
	return nil
}

// ValidEvents returns the event types that have a transition out of the
// given state. Useful for debugging and graph validation.
func ValidEvents(state State) []EventType {
	seen := make(map[EventType]bool)
	var events []EventType
	for _, t := range transitions {
		for _, from := range t.From {
			if from == state && !seen[t.Event] {
				seen[t.Event] = true
				events = append(events, t.Event)
			}
		}
	}
	return events
}

// ValidateTransitionGraph returns any states with no exit transitions.
// An empty result means no state is a dead end.
func ValidateTransitionGraph() []State {
	var deadEnds []State
	for _, state := range AllStates {
		if len(ValidEvents(state)) == 0 {
			deadEnds = append(deadEnds, state)
		}
	}
	return deadEnds
}
