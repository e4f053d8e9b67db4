package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/cashback-core/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/operators/register", h.RegisterOperator)
		r.Post("/operators/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/customers/validate", h.ValidateCustomer)
			r.Post("/customers", h.RegisterCustomer)

			r.Route("/customers/{id}", func(r chi.Router) {
				r.Get("/", h.GetCustomer)
				r.Patch("/", h.UpdateCustomer)

				r.Get("/balance", h.GetBalance)
				r.Get("/reconciliation", h.GetReconciliation)

				r.Get("/movements", h.GetMovements)
				r.Post("/movements", h.RecordMovement)

				r.Post("/purchases", h.RecordPurchase)
				r.Post("/redemptions", h.Redeem)
				r.Post("/referrals", h.PayReferral)
			})

			r.Post("/coupons", h.IssueCoupons)
			r.Get("/coupons/{code}", h.GetCoupon)

			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)
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
