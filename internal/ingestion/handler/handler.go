// Package handler exposes the ingestion HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/corpusware/termstat/internal/analytics"
	"github.com/corpusware/termstat/internal/ingestion"
	"github.com/corpusware/termstat/internal/ingestion/validator"
	apperrors "github.com/corpusware/termstat/pkg/errors"
	"github.com/corpusware/termstat/pkg/logger"
)

// Ingester persists a document for the named corpus. The bool reports
// whether the response was replayed from an earlier idempotent request.
type Ingester interface {
	Ingest(ctx context.Context, corpus string, req *ingestion.IngestRequest) (*ingestion.IngestResponse, bool, error)
}

type Handler struct {
	ingester Ingester
	events   *analytics.Collector
	logger   *slog.Logger
}

func New(ing Ingester, events *analytics.Collector) *Handler {
	return &Handler{
		ingester: ing,
		events:   events,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest handles POST /api/v1/corpora/{corpus}/documents. Fresh documents
// are answered with 202 Accepted; an idempotency-key replay returns the
// stored response with 200.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	corpus := r.PathValue("corpus")

	var req ingestion.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngest(corpus, &req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, replayed, err := h.ingester.Ingest(ctx, corpus, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"corpus", corpus,
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}

	status := http.StatusAccepted
	if replayed {
		status = http.StatusOK
	} else {
		h.events.Record(analytics.Event{
			Type:      analytics.EventDocumentIngested,
			Corpus:    corpus,
			Target:    resp.DocumentID,
			RequestID: logger.RequestIDFromContext(ctx),
			Timestamp: time.Now().UTC(),
		})
	}
	log.Info("document ingested",
		"doc_id", resp.DocumentID,
		"corpus", corpus,
		"replayed", replayed,
	)
	h.writeJSON(w, status, resp)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
