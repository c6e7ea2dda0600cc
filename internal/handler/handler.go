// Package handler содержит HTTP-обработчики API маркетплейса воркфлоу.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/middleware"
	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	PaymentsEnabled() bool

	RegisterUser(ctx context.Context, email, displayName, password string) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (int64, error)

	CreateDraft(ctx context.Context, sellerID int64, d service.Draft) (*model.Item, error)
	UpdateDraft(ctx context.Context, sellerID, itemID int64, patch model.ItemPatch) (*model.Item, error)
	UploadArtifact(ctx context.Context, sellerID, itemID int64, filename string, src io.Reader) (*model.Item, error)
	SetRemoteArtifact(ctx context.Context, sellerID, itemID int64, rawURL string) (*model.Item, error)
	ValidateForPublish(ctx context.Context, sellerID, itemID int64) ([]string, error)
	TransitionToPublished(ctx context.Context, sellerID, itemID int64) error
	TransitionToDraft(ctx context.Context, sellerID, itemID int64) error
	ListSellerItems(ctx context.Context, sellerID int64, status model.ItemStatus) ([]model.Item, error)

	InitiateCheckout(ctx context.Context, buyerID int64, cart service.Cart) (*service.CheckoutSession, error)
	HandlePaymentEvent(ctx context.Context, payload []byte, signature string) error
	DirectPurchase(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, bool, error)

	RecordAccess(ctx context.Context, buyerID, entitlementID int64) (*model.Entitlement, error)
	FetchArtifact(ctx context.Context, buyerID, entitlementID int64) (*service.Artifact, error)
	ListLibrary(ctx context.Context, buyerID int64) ([]model.LibraryEntry, error)
	ListOrders(ctx context.Context, buyerID int64) ([]model.Order, error)
	GetOrder(ctx context.Context, buyerID, orderID int64) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отвечает клиенту по классу ошибки сервиса. Инфраструктурные ошибки
// логируются и скрываются за 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrValidation.Error(), Issues: verr.Issues})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrProviderNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: service.ErrProviderNotConfigured.Error()})
	case errors.Is(err, service.ErrProvider):
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "payment provider is unavailable"})
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}
