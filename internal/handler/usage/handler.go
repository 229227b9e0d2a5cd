// Package usage exposes the caller's message quota per persona.
package usage

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/timemachine/backend/internal/middleware"
	usageService "github.com/zhouzirui/timemachine/backend/internal/service/usage"
	"github.com/zhouzirui/timemachine/backend/pkg/utils"
)

// StatusReader reports the quota of one client for one persona.
type StatusReader interface {
	Status(ctx context.Context, client, personaID string) (usageService.Status, error)
}

// Handler serves usage lookups.
type Handler struct {
	ledger StatusReader
	logger *zap.Logger
}

// New creates a usage handler.
func New(ledger StatusReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, logger: logger.Named("usage")}
}

// RegisterRoutes mounts GET /usage?personaId=.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.handleStatus)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	personaID := r.URL.Query().Get("personaId")
	if personaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	status, err := h.ledger.Status(r.Context(), middleware.ClientFromContext(r.Context()), personaID)
	switch {
	case errors.Is(err, usageService.ErrUnknownPersona):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("read usage", zap.String("persona", personaID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "usage unavailable")
	default:
		utils.RespondJSON(w, http.StatusOK, status)
	}
}
