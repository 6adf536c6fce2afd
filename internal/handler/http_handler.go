package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
	"github.com/finflow-ai/be-ar-dunning/internal/service"
)

// AuditReader reads the trigger audit trail.
type AuditReader interface {
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*repository.TriggerEvent, error)
}

// HTTPHandler handles HTTP requests for the dunning admin surface.
type HTTPHandler struct {
	monitor    *service.MonitorService
	executions *service.ExecutionService
	execStore  service.ExecutionStore
	audit      AuditReader
	log        zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	monitor *service.MonitorService,
	executions *service.ExecutionService,
	execStore service.ExecutionStore,
	audit AuditReader,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		monitor:    monitor,
		executions: executions,
		execStore:  execStore,
		audit:      audit,
		log:        log,
	}
}

// RunCycle handles manual monitor cycle requests.
func (h *HTTPHandler) RunCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := h.monitor.RunCycle(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// ContinueDue handles manual continuation batch requests.
func (h *HTTPHandler) ContinueDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	res := h.executions.ContinueDue(r.Context(), limit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// ManualTrigger handles manual trigger HTTP requests.
func (h *HTTPHandler) ManualTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SequenceID string `json:"sequence_id"`
		InvoiceID  string `json:"invoice_id"`
		ActorID    string `json:"actor_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SequenceID == "" || req.InvoiceID == "" || req.ActorID == "" {
		http.Error(w, "sequence_id, invoice_id and actor_id are required", http.StatusBadRequest)
		return
	}

	res, err := h.monitor.ManualTrigger(r.Context(), req.SequenceID, req.InvoiceID, req.ActorID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// StopExecution handles stop requests for a (sequence, invoice) pair.
func (h *HTTPHandler) StopExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SequenceID string `json:"sequence_id"`
		InvoiceID  string `json:"invoice_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SequenceID == "" || req.InvoiceID == "" {
		http.Error(w, "sequence_id and invoice_id are required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "stopped by operator"
	}

	if err := h.executions.Stop(r.Context(), req.SequenceID, req.InvoiceID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

// GetExecution handles execution lookup HTTP requests, by execution ID or
// by (sequence_id, invoice_id) pair.
func (h *HTTPHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := h.execStore.GetByID(r.Context(), id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
		return
	}

	sequenceID := r.URL.Query().Get("sequence_id")
	invoiceID := r.URL.Query().Get("invoice_id")
	if sequenceID == "" || invoiceID == "" {
		http.Error(w, "Execution ID or sequence_id and invoice_id are required", http.StatusBadRequest)
		return
	}

	rec, err := h.execStore.GetByPair(r.Context(), sequenceID, invoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "execution not found for pair", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GetAuditTrail handles audit trail lookup HTTP requests.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	invoiceID := r.URL.Query().Get("invoice_id")
	if invoiceID == "" {
		http.Error(w, "Invoice ID is required", http.StatusBadRequest)
		return
	}

	events, err := h.audit.GetByInvoiceID(r.Context(), invoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"invoice_id": invoiceID,
		"events":     events,
		"total":      len(events),
	})
}

// Health handles health check requests.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RegisterRoutes wires all admin endpoints onto the mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/dunning/run", h.RunCycle)
	mux.HandleFunc("/api/v1/dunning/continue", h.ContinueDue)
	mux.HandleFunc("/api/v1/dunning/trigger", h.ManualTrigger)
	mux.HandleFunc("/api/v1/dunning/stop", h.StopExecution)
	mux.HandleFunc("/api/v1/dunning/executions/get", h.GetExecution)
	mux.HandleFunc("/api/v1/dunning/audit", h.GetAuditTrail)
	mux.HandleFunc("/health", h.Health)
}

// writeError maps application error codes onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		case apperrors.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	http.Error(w, err.Error(), status)
}
