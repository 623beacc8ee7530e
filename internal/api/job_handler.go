package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Sourcing/internal/domain"
)

// SubmitJob обрабатывает POST /api/v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return
	}

	task, err := domain.DecodeTask(req.Kind, req.Payload)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	job, err := h.dispatcher.Submit(r.Context(), req.Key, req.EntityID, task)
	if HandleError(w, h.logger, err, "entity not found") {
		return
	}

	JSON(w, http.StatusAccepted, DataResponse{Data: JobFromDomain(*job)})
}

// ListEntityAttempts обрабатывает GET /api/v1/entities/{id}/attempts
func (h *Handler) ListEntityAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	attempts, err := h.attempts.ListByEntity(r.Context(), id)
	if HandleError(w, h.logger, err, "entity not found") {
		return
	}

	response := make([]AttemptResponse, len(attempts))
	for i, a := range attempts {
		response[i] = AttemptFromDomain(a)
	}

	List(w, response, len(response))
}
