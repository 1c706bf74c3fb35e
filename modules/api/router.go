// Package api exposes the entitlement service as a small JSON HTTP API
// consumed by the desktop client.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/swiftsaleapp/entitlement/pkg/entitlement"
	"github.com/swiftsaleapp/entitlement/pkg/logger"
)

// Option configures the router.
type Option func(*handlers)

// WithHealthHandler mounts a custom handler at GET /health.
func WithHealthHandler(h http.Handler) Option {
	return func(s *handlers) {
		if h != nil {
			s.health = h
		}
	}
}

type handlers struct {
	svc    entitlement.Service
	log    *slog.Logger
	health http.Handler
}

// Router builds the HTTP API for the entitlement service.
// Panics if svc or log is nil to fail fast during initialization.
func Router(svc entitlement.Service, log *slog.Logger, opts ...Option) chi.Router {
	if svc == nil {
		panic("api: entitlement.Service is required")
	}
	if log == nil {
		panic("api: logger is required")
	}

	h := &handlers{
		svc: svc,
		log: log,
		health: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}),
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health.ServeHTTP)
	r.Get("/tiers", h.listTiers)

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.register)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Post("/upgrade", h.upgrade)
			r.Post("/downgrade", h.downgrade)
			r.Post("/cancel", h.cancel)
			r.Post("/token", h.issueToken)
		})
	})

	return r
}

// accountView is the client-facing projection of an account row; history
// and the concurrency version stay server side.
type accountView struct {
	ID            uuid.UUID                 `json:"id"`
	Email         string                    `json:"email"`
	TierID        string                    `json:"tier_id"`
	Status        entitlement.AccountStatus `json:"status"`
	PendingTierID string                    `json:"pending_tier_id,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	CancelledAt   *time.Time                `json:"cancelled_at,omitempty"`
}

func newAccountView(acc *entitlement.Account) accountView {
	return accountView{
		ID:            acc.ID,
		Email:         acc.Email,
		TierID:        acc.TierID,
		Status:        acc.Status,
		PendingTierID: acc.PendingTierID,
		CreatedAt:     acc.CreatedAt,
		CancelledAt:   acc.CancelledAt,
	}
}

type tokenView struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func newTokenView(token entitlement.Token) tokenView {
	return tokenView{Token: token.Raw, ExpiresAt: token.Claims.ExpiresAt}
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "email is required")
		return
	}

	acc, err := h.svc.Register(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	token, err := h.svc.IssueToken(r.Context(), acc.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Account accountView `json:"account"`
		Token   tokenView   `json:"token"`
	}{newAccountView(acc), newTokenView(token)})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	info, err := h.svc.Status(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) upgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req struct {
		TierID       string `json:"tier_id"`
		PaymentProof string `json:"payment_proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "invalid request body")
		return
	}
	if req.TierID == "" {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "tier_id is required")
		return
	}

	acc, token, err := h.svc.RequestUpgrade(r.Context(), id, req.TierID, req.PaymentProof)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Account accountView `json:"account"`
		Token   tokenView   `json:"token"`
	}{newAccountView(acc), newTokenView(token)})
}

func (h *handlers) downgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req struct {
		TierID string `json:"tier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "invalid request body")
		return
	}
	if req.TierID == "" {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "tier_id is required")
		return
	}

	acc, err := h.svc.RequestDowngrade(r.Context(), id, req.TierID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	acc, err := h.svc.RequestCancel(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (h *handlers) issueToken(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	token, err := h.svc.IssueToken(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenView(token))
}

func (h *handlers) listTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Catalog().Tiers())
}

func (h *handlers) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidationError, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if !isClientError(err) {
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeServiceError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{
		entitlement.ErrAccountNotFound,
		entitlement.ErrTierNotFound,
		entitlement.ErrInvalidEmail,
		entitlement.ErrAccountCancelled,
		entitlement.ErrInvalidTransition,
		entitlement.ErrPaymentRejected,
		entitlement.ErrContention,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
