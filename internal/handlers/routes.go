package handlers

import "github.com/go-chi/chi/v5"

func RegisterPaymentRoutes(r chi.Router, h *PaymentHandler) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/process", h.ProcessPayment)
		r.Post("/refund", h.RefundPayment)
		r.Get("/", h.GetPayment)
	})
}
