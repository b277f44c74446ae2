package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"conflux/internal/identity/models"
	"conflux/internal/platform/middleware"
	dErrors "conflux/pkg/domain-errors"
	"conflux/pkg/platform/httputil"
)

// Service defines the interface for identity resolution.
type Service interface {
	Identify(ctx context.Context, obs models.Observation) (models.IdentityView, error)
}

// Handler handles identity resolution endpoints.
type Handler struct {
	logger       *slog.Logger
	identity     Service
	jwtValidator middleware.JWTValidator
}

// New creates a new identity Handler. The JWT validator is optional; when nil
// the identify endpoint is open.
func New(identity Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		identity:     identity,
		jwtValidator: jwtValidator,
	}
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	identityRouter := chi.NewRouter()
	identityRouter.Use(middleware.Recovery(h.logger))
	identityRouter.Use(middleware.RequestID)
	identityRouter.Use(middleware.Logger(h.logger))
	identityRouter.Use(middleware.Timeout(30 * time.Second))
	identityRouter.Use(middleware.ContentTypeJSON)
	if h.jwtValidator != nil {
		identityRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	}
	identityRouter.Post("/identify", h.handleIdentify)

	r.Mount("/", identityRouter)
}

type identifyRequest struct {
	Email       *string `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
}

type contactResponse struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

type identifyResponse struct {
	Contact contactResponse `json:"contact"`
}

// handleIdentify resolves an observation to its consolidated identity.
func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// API-layer normalization stops at whitespace; values are matched
	// verbatim by the linking engine.
	obs := models.Observation{
		Email: normalizeField(req.Email),
		Phone: normalizeField(req.PhoneNumber),
	}

	view, err := h.identity.Identify(ctx, obs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, identifyResponse{Contact: contactResponse{
		PrimaryContactID:    view.PrimaryID,
		Emails:              view.Emails,
		PhoneNumbers:        view.Phones,
		SecondaryContactIDs: view.SecondaryIDs,
	}})
}

func normalizeField(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
