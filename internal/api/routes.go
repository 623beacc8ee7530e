package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(),
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Entities (fan-in)
	mux.Handle("POST /api/v1/entities", chain(http.HandlerFunc(h.DispatchEntity)))
	mux.Handle("GET /api/v1/entities/{id}", chain(http.HandlerFunc(h.GetEntity)))
	mux.Handle("GET /api/v1/entities/{id}/errors", chain(http.HandlerFunc(h.ListEntityErrors)))
	mux.Handle("GET /api/v1/entities/{id}/attempts", chain(http.HandlerFunc(h.ListEntityAttempts)))

	// Jobs (single-job)
	mux.Handle("POST /api/v1/jobs", chain(http.HandlerFunc(h.SubmitJob)))
}
