package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/service"
)

const maxWebhookBytes = 1 << 20

type cartLineRequest struct {
	WorkflowID int64 `json:"workflowId"`
	Quantity   int64 `json:"quantity"`
}

type checkoutRequest struct {
	WorkflowID int64             `json:"workflowId"`
	Items      []cartLineRequest `json:"items"`
}

type checkoutResponse struct {
	OrderID   int64  `json:"orderId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type purchaseResponse struct {
	PurchaseID int64 `json:"purchaseId"`
}

// Checkout создаёт заказ и платёжную сессию.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cart := service.Cart{ItemID: req.WorkflowID}
	for _, line := range req.Items {
		cart.Lines = append(cart.Lines, service.CartLine{ItemID: line.WorkflowID, Quantity: line.Quantity})
	}

	session, err := h.service.InitiateCheckout(r.Context(), buyerID, cart)
	if err != nil {
		h.writeError(w, err, "checkout error", zap.Int64("buyerID", buyerID))
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:   session.OrderID,
		SessionID: session.SessionID,
		URL:       session.URL,
	})
}

// PaymentWebhook принимает уведомления платёжного провайдера. Подпись проверяется
// по сырому телу запроса.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.HandlePaymentEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, service.ErrProviderNotConfigured):
		h.logger.Error("webhook received without configured provider", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	case errors.Is(err, service.ErrProvider):
		h.logger.Warn("webhook rejected", zap.Error(err), zap.String("remoteAddr", r.RemoteAddr))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid webhook signature"})
	default:
		// 500 заставляет провайдера повторить доставку.
		h.logger.Error("webhook processing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Purchase выдаёт доступ к воркфлоу без оплаты. Маршрут существует, только когда
// платёжный провайдер не настроен.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	e, created, err := h.service.DirectPurchase(r.Context(), buyerID, itemID)
	if err != nil {
		h.writeError(w, err, "direct purchase error", zap.Int64("buyerID", buyerID), zap.Int64("itemID", itemID))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, purchaseResponse{PurchaseID: e.ID})
}
