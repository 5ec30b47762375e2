package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/speculo/speculo/internal/avatar"
)

// AvatarHandlers exposes the animation state machine over HTTP. The
// WebSocket hub is the primary event path; these handlers exist for the
// control panel and for scripting.
type AvatarHandlers struct {
	machine *avatar.Machine
}

// NewAvatarHandlers creates the avatar REST handlers.
func NewAvatarHandlers(machine *avatar.Machine) *AvatarHandlers {
	return &AvatarHandlers{machine: machine}
}

// stateResponse is the response format for state reads and dispatches.
type stateResponse struct {
	State       avatar.State       `json:"state"`
	Context     avatar.Context     `json:"context"`
	Transition  bool               `json:"transitioned"`
	ValidEvents []avatar.EventType `json:"valid_events"`
}

// GetState handles GET /api/avatar/state - current state, context, and
// the events the state accepts.
func (h *AvatarHandlers) GetState(w http.ResponseWriter, r *http.Request) {
	state := h.machine.State()
	respondJSON(w, http.StatusOK, stateResponse{
		State:       state,
		Context:     h.machine.Context(),
		Transition:  false,
		ValidEvents: avatar.ValidEvents(state),
	})
}

// DispatchRequest is the body for POST /api/avatar/event.
type DispatchRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

// DispatchEvent handles POST /api/avatar/event - feed one event to the
// machine. Events the current state doesn't accept are not errors; the
// response reports transitioned=false and the state is unchanged.
func (h *AvatarHandlers) DispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "event type is required", nil)
		return
	}

	transitioned := h.machine.Dispatch(avatar.Event{
		Type:    avatar.EventType(req.Type),
		Payload: req.Payload,
	})

	state := h.machine.State()
	respondJSON(w, http.StatusOK, stateResponse{
		State:       state,
		Context:     h.machine.Context(),
		Transition:  transitioned,
		ValidEvents: avatar.ValidEvents(state),
	})
}

// ForceStateRequest is the body for POST /api/avatar/force.
type ForceStateRequest struct {
	State string `json:"state"`
}

// ForceState handles POST /api/avatar/force - jump straight to a state,
// bypassing the transition table. Recovery and debugging only.
func (h *AvatarHandlers) ForceState(w http.ResponseWriter, r *http.Request) {
	var req ForceStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	target := avatar.State(req.State)
	known := false
	for _, s := range avatar.AllStates {
		if s == target {
			known = true
			break
		}
	}
	if !known {
		respondError(w, http.StatusBadRequest, "unknown state", nil)
		return
	}

	h.machine.ForceState(target)
	respondJSON(w, http.StatusOK, stateResponse{
		State:       target,
		Context:     h.machine.Context(),
		Transition:  true,
		ValidEvents: avatar.ValidEvents(target),
	})
}
