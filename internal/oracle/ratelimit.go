package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying oracle.
type RateLimited struct {
	next    classify.Oracle
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond sustained calls with the given burst.
// A burst below 1 is derived from perSecond.
func NewRateLimited(next classify.Oracle, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Classify implements classify.Oracle.
func (r *RateLimited) Classify(ctx context.Context, text string, candidates []string, template string) (classify.Prediction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return classify.Prediction{}, fmt.Errorf("rate limiter canceled: %w", err)
	}
	return r.next.Classify(ctx, text, candidates, template)
}
