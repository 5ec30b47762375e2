package avatar

import (
	"log"
	"sync"
	"time"
)

// Machine is the avatar state machine. Dispatch and ForceState run to
// completion (including listener notification) before returning. State is
// protected by a mutex so multiple event sources can share one instance;
// listeners are invoked outside the lock, so a listener may dispatch
// follow-up events without deadlocking.
type Machine struct {
	mu        sync.Mutex
	state     State
	context   Context
	listeners map[int]Listener
	nextID    int

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewMachine creates a machine starting in the given state (usually IDLE).
func NewMachine(initial State) *Machine {
	if initial == "" {
		initial = StateIdle
	}
	m := &Machine{
		state:     initial,
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
	m.context = Context{
		PreviousState: initial,
		EnteredAt:     m.now(),
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context returns a copy of the current context.
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context
}

// Dispatch feeds one event to the machine. It returns true when a
// transition occurred. A missing transition or a rejecting guard is a
// silent, expected outcome (false), not an error. Event payloads update
// the context even when no transition occurs.
func (m *Machine) Dispatch(event Event) bool {
	m.mu.Lock()

	now := m.now()
	m.applyEventContext(event, now)

	transition := findTransition(m.state, event.Type)
	if transition == nil {
		m.mu.Unlock()
		return false
	}
	if transition.Guard != nil && !transition.Guard(m.context, now) {
		m.mu.Unlock()
		return false
	}

	previous := m.state
	m.state = transition.To
	m.context.PreviousState = previous
	m.context.EnteredAt = now

	// Entering SPEAKING starts a fresh utterance; the previous
	// speaking-end marker no longer applies.
	if transition.To == StateSpeaking && event.Type == EventTTSStart {
		m.context.SpeakingEndTime = nil
	}

	state, ctx, listeners := m.state, m.context, m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, state, ctx, previous)
	return true
}

// applyEventContext updates context fields tied to specific event types.
// This happens regardless of whether the event causes a transition, so a
// TTS_END rejected by the lingering guard still records when speech ended.
func (m *Machine) applyEventContext(event Event, now time.Time) {
	switch event.Type {
	case EventErrorOccurred:
		m.context.ErrorMessage = event.Payload
	case EventConfirmationRequired:
		m.context.ConfirmationPrompt = event.Payload
	case EventTTSEnd:
		if m.context.SpeakingEndTime == nil {
			t := now
			m.context.SpeakingEndTime = &t
		}
	case EventErrorDismissed:
		m.context.ErrorMessage = ""
	case EventConfirmationReceived:
		m.context.ConfirmationPrompt = ""
	}
}

// ForceState bypasses the transition table entirely (debug/demo). Context
// bookkeeping and listener notification still happen.
func (m *Machine) ForceState(state State) {
	m.mu.Lock()
	previous := m.state
	m.state = state
	m.context.PreviousState = previous
	m.context.EnteredAt = m.now()

	newState, ctx, listeners := m.state, m.context, m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, newState, ctx, previous)
}

// Subscribe registers a listener and returns an unsubscribe function.
// Listeners are notified synchronously on every successful transition.
func (m *Machine) Subscribe(listener Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetClock overrides the machine's clock. Intended for tests.
func (m *Machine) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Machine) snapshotListeners() []Listener {
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// notify calls each listener, recovering from panics so one failing
// listener can't prevent the others from being notified.
func notify(listeners []Listener, state State, ctx Context, previous State) {
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("avatar: state change listener panicked: %v", r)
				}
			}()
			listener(state, ctx, previous)
		}()
	}
}
