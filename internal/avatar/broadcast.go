package avatar

import "encoding/json"

// BroadcastMessage is the wire form of the pub/sub channel shared with
// the control panel and mirror displays.
type BroadcastMessage struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// MapBroadcastToEvent translates a broadcast message into a machine event.
// The mapping is total: message types that don't affect animation state
// yield ok=false, never an error.
func MapBroadcastToEvent(msg BroadcastMessage) (Event, bool) {
	switch msg.Type {
	case "mic_start":
		return Event{Type: EventMicActivated}, true
	case "mic_stop":
		return Event{Type: EventMicDeactivated}, true
	case "thinking_start":
		return Event{Type: EventProcessingStart}, true
	case "thinking_end":
		return Event{Type: EventProcessingEnd}, true
	case "speaking_start":
		return Event{Type: EventTTSStart}, true
	case "speaking_end":
		return Event{Type: EventTTSEnd}, true
	case "user_presence":
		if msg.Payload == "detected" {
			return Event{Type: EventUserDetected}, true
		}
		return Event{Type: EventUserLost}, true
	case "error_event":
		if msg.Payload != "" {
			return Event{Type: EventErrorOccurred, Payload: msg.Payload}, true
		}
		return Event{Type: EventErrorDismissed}, true
	case "sleep_wake":
		if msg.Payload == "sleep" {
			return Event{Type: EventSleepTimer}, true
		}
		return Event{Type: EventWake}, true
	case "confirmation_request":
		if msg.Payload == "" {
			return Event{}, false
		}
		return Event{Type: EventConfirmationRequired, Payload: msg.Payload}, true
	case "confirmation_response":
		return Event{Type: EventConfirmationReceived, Payload: msg.Payload}, true
	}
	return Event{}, false
}

// StateChangeBroadcast builds the message that syncs a state change out
// to other displays.
func StateChangeBroadcast(state, previous State) BroadcastMessage {
	payload, _ := json.Marshal(map[string]string{
		"state":         string(state),
		"previousState": string(previous),
	})
	return BroadcastMessage{
		Type:    "avatar_state_change",
		Payload: string(payload),
	}
}
