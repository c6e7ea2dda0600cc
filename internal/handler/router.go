package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/workflow-market/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// Подпись уведомления проверяется по сырому телу, поэтому без gzip и авторизации.
	r.Post("/api/stripe/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/api/seller/workflows", func(r chi.Router) {
				r.Get("/", h.ListItems)
				r.Post("/", h.CreateItem)
				r.Put("/{workflowId}", h.UpdateItem)
				r.Post("/{workflowId}/artifact", h.UploadArtifact)
				r.Put("/{workflowId}/remote", h.SetRemoteArtifact)
				r.Post("/{workflowId}/validate", h.ValidateItem)
				r.Post("/{workflowId}/publish", h.PublishItem)
				r.Post("/{workflowId}/unpublish", h.UnpublishItem)
			})

			r.Post("/api/checkout/session", h.Checkout)
			if !h.service.PaymentsEnabled() {
				r.Post("/api/purchase/{workflowId}", h.Purchase)
			}

			r.Get("/api/library", h.Library)
			r.Post("/api/library/{purchaseId}/access", h.RecordAccess)
			r.Get("/api/library/{purchaseId}/download", h.Download)

			r.Get("/api/orders", h.Orders)
			r.Get("/api/orders/{orderId}", h.Order)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
