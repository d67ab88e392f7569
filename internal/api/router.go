package api

import (
	"net/http"

	"github.com/example/warehouse-fulfillment/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(handlers *Handlers, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/healthz", handlers.Health)

	// Acceptances
	r.Post("/acceptances", handlers.CreateAcceptance)
	r.Get("/acceptances/{id}", handlers.GetAcceptance)

	// Postings
	r.Post("/postings", handlers.CreatePosting)
	r.Get("/postings/{id}", handlers.GetPosting)
	r.Post("/postings/{id}/send", handlers.SendPosting)
	r.Post("/postings/{id}/cancel", handlers.CancelPosting)

	// Tasks
	r.Get("/tasks/{id}", handlers.GetTask)
	r.Post("/tasks/{id}/finish", handlers.FinishTask)

	// Items
	r.Get("/items/{id}", handlers.GetItem)
	r.Post("/items/{id}/markdown", handlers.MarkdownItem)
	r.Post("/items/{id}/not-found", handlers.MoveToNotFound)

	// SKUs
	r.Get("/skus/{id}", handlers.GetSku)
	r.Get("/skus/{id}/items", handlers.ListItemsBySku)
	r.Put("/skus/{id}/price", handlers.SetSkuPrice)
	r.Put("/skus/{id}/hidden", handlers.ToggleHidden)

	// Discounts
	r.Post("/discounts", handlers.CreateDiscount)
	r.Get("/discounts/{id}", handlers.GetDiscount)
	r.Post("/discounts/{id}/cancel", handlers.CancelDiscount)

	return r
}
