package api

import (
	"encoding/json"
	"net/http"
)

// DispatchEntity обрабатывает POST /api/v1/entities
func (h *Handler) DispatchEntity(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	tasks, err := req.DecodeTasks()
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	dispatchFn := h.dispatcher.Dispatch
	if req.Force {
		dispatchFn = h.dispatcher.Redispatch
	}

	result, err := dispatchFn(r.Context(), req.Key, req.EntityID, tasks)
	if HandleError(w, h.logger, err, "entity not found") {
		return
	}

	Created(w, DispatchFromResult(*result))
}

// GetEntity обрабатывает GET /api/v1/entities/{id}
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	state, err := h.entities.GetEntity(r.Context(), id)
	if HandleError(w, h.logger, err, "entity not found") {
		return
	}

	Success(w, EntityFromDomain(*state))
}

// ListEntityErrors обрабатывает GET /api/v1/entities/{id}/errors
func (h *Handler) ListEntityErrors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	records, err := h.errors.ListByEntity(r.Context(), id)
	if HandleError(w, h.logger, err, "entity not found") {
		return
	}

	response := make([]ErrorRecordResponse, len(records))
	for i, rec := range records {
		response[i] = ErrorRecordFromDomain(rec)
	}

	List(w, response, len(response))
}
