package invoice

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-invoice/internal/common"
)

// Handler exposes invoice preview and submission endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

type submitResponse struct {
	Message string          `json:"message"`
	Invoice json.RawMessage `json:"invoice,omitempty"`
	Totals  PreviewTotals   `json:"totals"`
}

// Preview handles POST /api/v1/invoices/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice service not configured", nil)
		return
	}
	req, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	preview, err := h.service.Preview(r.Context(), req.Draft())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, preview)
}

// Submit handles POST /api/v1/invoices.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "invoice service not configured", nil)
		return
	}
	req, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(common.IdempotencyHeader))
	result, err := h.service.Submit(r.Context(), req.Draft(), key)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, submitResponse{
		Message: result.Receipt.Message,
		Invoice: result.Receipt.Data,
		Totals:  result.Totals,
	})
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (DraftRequest, bool) {
	var req DraftRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return req, false
	}
	if err := req.Validate(); err != nil {
		common.WriteError(w, err)
		return req, false
	}
	return req, true
}
