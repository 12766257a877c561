package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/rodrigues/cobranca-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса учёта платежей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.CreateCustomer)
			r.Get("/", h.GetCustomers)
			r.Get("/{id}", h.GetCustomer)
			r.Patch("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
		})

		r.Route("/charges", func(r chi.Router) {
			r.Post("/", h.CreateCharge)
			r.Get("/", h.GetCharges)
			r.Get("/{id}", h.GetCharge)
			r.Patch("/{id}", h.UpdateCharge)
			r.Delete("/{id}", h.DeleteCharge)
			r.Get("/{id}/payment-amount", h.GetPaymentAmount)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Get("/", h.GetPayments)
			r.Get("/{id}", h.GetPayment)
			r.Delete("/{id}", h.DeletePayment)
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
