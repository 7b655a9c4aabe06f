// Package api assembles the HTTP surface of the classification service.
package api

import (
	"net/http"

	"github.com/dvloznov/transaction-classifier/internal/api/handlers"
	"github.com/dvloznov/transaction-classifier/internal/api/middleware"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/dvloznov/transaction-classifier/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators the router hands to its handlers.
type Dependencies struct {
	Authenticator middleware.Authenticator
	Publisher     jobs.Publisher
	JobStore      jobs.JobStore
	Transactions  classify.TransactionReader
	MaxBodyBytes  int64
	Log           zerolog.Logger
}

// NewRouter returns the service's HTTP handler with all middleware applied.
func NewRouter(deps Dependencies) http.Handler {
	log := deps.Log

	classifications := handlers.NewClassificationsHandler(deps.Publisher, deps.MaxBodyBytes, log)
	jobsHandler := handlers.NewJobsHandler(deps.JobStore, log)
	transactions := handlers.NewTransactionsHandler(deps.Transactions, log)

	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handlers.Health)

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.Auth(deps.Authenticator, log))

		authed.Post("/classify_transactions", classifications.ClassifyTransactions)

		authed.Route("/api", func(api chi.Router) {
			api.Post("/classifications", classifications.ClassifyTransactions)

			api.Get("/jobs", jobsHandler.ListJobs)
			api.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
				jobsHandler.GetJob(w, r, chi.URLParam(r, "id"))
			})

			api.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
				transactions.GetTransaction(w, r, chi.URLParam(r, "id"))
			})
		})
	})

	return r
}
