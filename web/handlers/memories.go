package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/speculo/speculo/internal/memory"
	"github.com/speculo/speculo/internal/storage"
	"github.com/speculo/speculo/pkg/types"
)

// MemoryHandlers contains the REST handlers for the memory subsystem.
type MemoryHandlers struct {
	store   storage.MemoryStore
	service *memory.Service
	rag     *memory.RAGService
	ragCfg  memory.RAGConfig
}

// NewMemoryHandlers creates the memory REST handlers.
func NewMemoryHandlers(store storage.MemoryStore, service *memory.Service, rag *memory.RAGService, ragCfg memory.RAGConfig) *MemoryHandlers {
	return &MemoryHandlers{
		store:   store,
		service: service,
		rag:     rag,
		ragCfg:  ragCfg,
	}
}

// ListMemories handles GET /api/memories - list memories with filtering.
// Query parameters: user_id (required), kind, status, limit.
func (h *MemoryHandlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	limit := parseInt(r.URL.Query().Get("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}

	filter := storage.MemoryFilter{
		UserID: userID,
		Kind:   types.MemoryKind(r.URL.Query().Get("kind")),
		Status: types.MemoryStatus(r.URL.Query().Get("status")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		respondError(w, http.StatusBadRequest, "invalid kind", nil)
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status", nil)
		return
	}

	memories, err := h.store.FindMany(r.Context(), filter, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list memories", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

// GetMemory handles GET /api/memories/{id} - get a single memory by ID.
func (h *MemoryHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	mem, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get memory", err)
		return
	}

	respondJSON(w, http.StatusOK, mem)
}

// CreateMemoryRequest represents the request body for creating a memory.
type CreateMemoryRequest struct {
	UserID     string   `json:"user_id"`
	Kind       string   `json:"kind"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
}

// CreateMemory handles POST /api/memories - create a new memory.
// Memories created through the API carry the manual source.
func (h *MemoryHandlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	input := storage.CreateMemoryInput{
		UserID:     req.UserID,
		Kind:       types.MemoryKind(req.Kind),
		Title:      req.Title,
		Content:    req.Content,
		Tags:       req.Tags,
		Importance: req.Importance,
		Source:     types.SourceManual,
	}

	mem, err := h.store.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid memory", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create memory", err)
		return
	}

	respondJSON(w, http.StatusCreated, mem)
}

// UpdateMemoryRequest represents the request body for updating a memory.
// All fields are optional for partial updates.
type UpdateMemoryRequest struct {
	Title      *string  `json:"title,omitempty"`
	Content    *string  `json:"content,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	Status     *string  `json:"status,omitempty"`
}

// UpdateMemory handles PUT /api/memories/{id} - partial update.
func (h *MemoryHandlers) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req UpdateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	input := storage.UpdateMemoryInput{
		Title:      req.Title,
		Content:    req.Content,
		Tags:       req.Tags,
		Importance: req.Importance,
	}
	if req.Status != nil {
		status := types.MemoryStatus(*req.Status)
		input.Status = &status
	}

	mem, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "memory not found", err)
		case errors.Is(err, storage.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "invalid update", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to update memory", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, mem)
}

// DeleteMemory handles DELETE /api/memories/{id}. Deletion is soft by
// default; pass ?hard=true to remove the row and its embedding.
func (h *MemoryHandlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = h.store.HardDelete(r.Context(), id)
	} else {
		err = h.store.SoftDelete(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetProfiles handles GET /api/profiles - list the user's active profile
// memories.
func (h *MemoryHandlers) GetProfiles(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	profiles, err := h.service.GetProfiles(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get profiles", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// ProcessConversationRequest is the body for POST /api/conversation.
type ProcessConversationRequest struct {
	UserID           string          `json:"user_id"`
	Messages         []types.Message `json:"messages"`
	RelatedMemoryIDs []string        `json:"related_memory_ids,omitempty"`
}

// ProcessConversation handles POST /api/conversation - run extraction over
// a finished conversation turn and persist what it yields. Responds with
// the per-category stats, or all-zero stats when extraction was skipped.
func (h *MemoryHandlers) ProcessConversation(w http.ResponseWriter, r *http.Request) {
	var req ProcessConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	stats, err := h.service.ProcessConversation(r.Context(), req.UserID, req.Messages, req.RelatedMemoryIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "conversation processing failed", err)
		return
	}
	if stats == nil {
		stats = &memory.ProcessingStats{}
	}

	respondJSON(w, http.StatusOK, stats)
}

// ContextRequest is the body for POST /api/context.
type ContextRequest struct {
	UserID string `json:"user_id"`
	Input  string `json:"input"`
	TopK   int    `json:"top_k,omitempty"`
	Touch  bool   `json:"touch,omitempty"`
}

// ContextResponse carries the formatted prompt context plus the raw
// retrieval result for callers that want to render it themselves.
type ContextResponse struct {
	Context   string             `json:"context"`
	Retrieved *memory.RAGContext `json:"retrieved"`
}

// GetContext handles POST /api/context - assemble retrieval-augmented
// context for one user input. When touch is set, the retrieved memories
// get their last_used_at refreshed. A ?threshold= query parameter
// overrides the similarity cutoff for this request.
func (h *MemoryHandlers) GetContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	cfg := h.ragCfg
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}
	cfg.Threshold = parseFloat(r.URL.Query().Get("threshold"), cfg.Threshold)

	retrieved, err := h.rag.Retrieve(r.Context(), req.UserID, req.Input, cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to retrieve context", err)
		return
	}

	if req.Touch && len(retrieved.UsedMemoryIDs) > 0 {
		if err := h.service.TouchMemories(r.Context(), retrieved.UsedMemoryIDs); err != nil {
			// Retrieval already succeeded; a failed touch doesn't void it.
			respondError(w, http.StatusInternalServerError, "failed to touch memories", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, ContextResponse{
		Context:   h.rag.FormatContext(retrieved),
		Retrieved: retrieved,
	})
}

// BackfillEmbeddings handles POST /api/embeddings/backfill - generate
// embeddings for memories that are missing one.
func (h *MemoryHandlers) BackfillEmbeddings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	count, err := h.service.BackfillEmbeddings(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "backfill failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"embedded": count})
}
