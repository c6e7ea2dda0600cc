package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
)

type libraryEntryResponse struct {
	PurchaseID     int64           `json:"purchaseId"`
	WorkflowID     int64           `json:"workflowId"`
	OrderID        int64           `json:"orderId,omitempty"`
	Title          string          `json:"title"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	PurchasedAt    string          `json:"purchasedAt"`
	LastAccessedAt string          `json:"lastAccessedAt,omitempty"`
	DownloadCount  int64           `json:"downloadCount"`
}

type orderItemResponse struct {
	WorkflowID int64           `json:"workflowId"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
}

type orderResponse struct {
	ID          int64               `json:"id"`
	Status      string              `json:"status"`
	TotalAmount decimal.Decimal     `json:"totalAmount"`
	Currency    string              `json:"currency"`
	CreatedAt   string              `json:"createdAt"`
	PaidAt      string              `json:"paidAt,omitempty"`
	Items       []orderItemResponse `json:"items,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt.Format(time.RFC3339),
		PaidAt:      formatTime(o.PaidAt),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{WorkflowID: it.ItemID, UnitPrice: it.UnitPrice})
	}
	return resp
}

// Library возвращает купленные пользователем воркфлоу.
func (h *Handler) Library(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListLibrary(r.Context(), buyerID)
	if err != nil {
		h.writeError(w, err, "list library error", zap.Int64("buyerID", buyerID))
		return
	}

	resp := make([]libraryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, libraryEntryResponse{
			PurchaseID:     e.Entitlement.ID,
			WorkflowID:     e.Entitlement.ItemID,
			OrderID:        e.Entitlement.OrderID,
			Title:          e.Title,
			Price:          e.Price,
			Currency:       e.Currency,
			PurchasedAt:    e.Entitlement.PurchasedAt.Format(time.RFC3339),
			LastAccessedAt: formatTime(e.Entitlement.LastAccessedAt),
			DownloadCount:  e.Entitlement.DownloadCount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Orders возвращает заказы пользователя.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), buyerID)
	if err != nil {
		h.writeError(w, err, "list orders error", zap.Int64("buyerID", buyerID))
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Order возвращает заказ пользователя с позициями.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), buyerID, orderID)
	if err != nil {
		h.writeError(w, err, "get order error", zap.Int64("orderID", orderID))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// RecordAccess отмечает открытие купленного воркфлоу.
func (h *Handler) RecordAccess(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	purchaseID, ok := pathID(w, r, "purchaseId")
	if !ok {
		return
	}

	if _, err := h.service.RecordAccess(r.Context(), buyerID, purchaseID); err != nil {
		h.writeError(w, err, "record access error", zap.Int64("purchaseID", purchaseID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download отдаёт артефакт купленного воркфлоу.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	purchaseID, ok := pathID(w, r, "purchaseId")
	if !ok {
		return
	}

	a, err := h.service.FetchArtifact(r.Context(), buyerID, purchaseID)
	if err != nil {
		h.writeError(w, err, "fetch artifact error", zap.Int64("purchaseID", purchaseID))
		return
	}
	defer a.Body.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	if a.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, a.Body); err != nil {
		h.logger.Warn("artifact stream interrupted", zap.Error(err), zap.Int64("purchaseID", purchaseID))
	}
	if err := a.Tracked(); err != nil {
		h.logger.Debug("download not tracked", zap.Int64("purchaseID", purchaseID), zap.Error(err))
	}
}
