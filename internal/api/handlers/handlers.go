package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/api/middleware"
	"github.com/dvloznov/transaction-classifier/internal/classify"
	"github.com/dvloznov/transaction-classifier/internal/jobs"
	"github.com/rs/zerolog"
)

// DefaultMaxBodyBytes caps the size of a classification request body.
const DefaultMaxBodyBytes = 10 << 20

// StatusAccepted is the status string returned for accepted batches.
const StatusAccepted = "Processing in background"

// ClassificationsHandler accepts classification batches.
type ClassificationsHandler struct {
	publisher    jobs.Publisher
	maxBodyBytes int64
	log          zerolog.Logger
}

// NewClassificationsHandler creates a new classifications handler.
func NewClassificationsHandler(publisher jobs.Publisher, maxBodyBytes int64, log zerolog.Logger) *ClassificationsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &ClassificationsHandler{
		publisher:    publisher,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// ClassifyTransactions handles POST /classify_transactions and POST /api/classifications.
// The response is written as soon as the batch is queued; classification runs on the worker pool.
func (h *ClassificationsHandler) ClassifyTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Missing or malformed bearer token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var batch classify.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		var verr *classify.ValidationError
		if errors.As(err, &verr) {
			middleware.WriteError(w, http.StatusBadRequest, verr.Message)
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := classify.Validate(&batch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.ClassifyBatchJob{
		UserID:    principal.UserID,
		Principal: principal,
		Batch:     batch.Clone(),
	}

	if err := h.publisher.PublishClassifyBatch(ctx, job); err != nil {
		switch {
		case errors.Is(err, jobs.ErrQueueFull):
			h.log.Warn().Str("user_id", principal.UserID).Msg("Classification queue is full, rejecting batch")
			middleware.WriteError(w, http.StatusServiceUnavailable, jobs.ErrQueueFull.Error())
		case errors.Is(err, jobs.ErrQueueClosed):
			middleware.WriteError(w, http.StatusServiceUnavailable, "Service is shutting down")
		default:
			h.log.Error().Err(err).Msg("Failed to enqueue classification job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue classification job")
		}
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("user_id", principal.UserID).
		Int("transactions", len(batch.Transactions)).
		Int("categories", batch.Categories.Len()).
		Msg("Classification job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": StatusAccepted,
		"job_id": job.JobID,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}. Jobs owned by other principals are reported as not found.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	principal, _ := middleware.PrincipalFromContext(ctx)

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, jobs.ErrJobNotFound) {
			h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		}
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if job.UserID != principal.UserID {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := middleware.PrincipalFromContext(ctx)

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: principal.UserID,
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	reader classify.TransactionReader
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(reader classify.TransactionReader, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		reader: reader,
		log:    log,
	}
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	ctx := r.Context()
	principal, _ := middleware.PrincipalFromContext(ctx)

	tx, err := h.reader.GetOwned(ctx, transactionID, principal.UserID)
	if err != nil {
		if errors.Is(err, classify.ErrTransactionNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		h.log.Error().Err(err).Str("transaction_id", transactionID).Msg("Failed to get transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, tx)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
