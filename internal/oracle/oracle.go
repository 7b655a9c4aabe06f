// Package oracle provides the text classifiers that score candidate labels for
// a transaction: a zero-shot NLI inference endpoint and LLM-backed scorers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
)

// Supported providers.
const (
	ProviderZeroShot  = "zeroshot"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// ErrNoCandidates is returned when Classify is called with an empty label set.
var ErrNoCandidates = errors.New("oracle: no candidate labels")

// Config selects and configures an oracle.
type Config struct {
	Provider string
	Model    string
	Endpoint string
	APIKey   string

	// Timeout bounds a single Classify call. Zero means no extra deadline.
	Timeout time.Duration

	// RateLimit is the sustained number of calls per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// New creates the oracle described by cfg, wrapped with the configured
// timeout and rate limit.
func New(ctx context.Context, cfg Config) (classify.Oracle, error) {
	var (
		o   classify.Oracle
		err error
	)

	switch strings.ToLower(cfg.Provider) {
	case ProviderZeroShot, "":
		o, err = NewZeroShotClient(cfg.Endpoint, cfg.APIKey, nil)
	case ProviderGemini:
		o, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case ProviderAnthropic:
		o, err = NewAnthropicClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		o = &timeoutOracle{next: o, timeout: cfg.Timeout}
	}
	if cfg.RateLimit > 0 {
		o = NewRateLimited(o, cfg.RateLimit, cfg.Burst)
	}
	return o, nil
}

type timeoutOracle struct {
	next    classify.Oracle
	timeout time.Duration
}

func (t *timeoutOracle) Classify(ctx context.Context, text string, candidates []string, template string) (classify.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Classify(ctx, text, candidates, template)
}
