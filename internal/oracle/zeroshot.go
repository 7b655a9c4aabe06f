package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/dvloznov/transaction-classifier/internal/classify"
)

// DefaultZeroShotEndpoint is the hosted inference endpoint for the default NLI model.
const DefaultZeroShotEndpoint = "https://api-inference.huggingface.co/models/facebook/bart-large-mnli"

const maxErrorBody = 512

// ZeroShotClient calls a zero-shot-classification inference endpoint.
type ZeroShotClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewZeroShotClient creates a client for endpoint. A nil httpClient gets a
// pooled client with a 30s timeout.
func NewZeroShotClient(endpoint, apiKey string, httpClient *http.Client) (*ZeroShotClient, error) {
	if endpoint == "" {
		endpoint = DefaultZeroShotEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &ZeroShotClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}, nil
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	HypothesisTemplate string   `json:"hypothesis_template,omitempty"`
	MultiLabel         bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify implements classify.Oracle.
func (c *ZeroShotClient) Classify(ctx context.Context, text string, candidates []string, template string) (classify.Prediction, error) {
	if len(candidates) == 0 {
		return classify.Prediction{}, ErrNoCandidates
	}

	body, err := json.Marshal(zeroShotRequest{
		Inputs: text,
		Parameters: zeroShotParameters{
			CandidateLabels:    candidates,
			HypothesisTemplate: template,
		},
	})
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: inference error (status %d): %s", resp.StatusCode, string(raw))
	}

	pred, err := decodeZeroShot(raw)
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("ZeroShotClient.Classify: %w", err)
	}
	return pred, nil
}

// decodeZeroShot accepts the single-object form {"labels":[...],"scores":[...]},
// a one-element list of that object, and the flat [{"label":..,"score":..}] form.
func decodeZeroShot(raw []byte) (classify.Prediction, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return classify.Prediction{}, fmt.Errorf("empty response")
	}

	if trimmed[0] == '{' {
		var r zeroShotResponse
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return classify.Prediction{}, fmt.Errorf("decode response: %w", err)
		}
		return classify.Prediction{Labels: r.Labels, Scores: r.Scores}, nil
	}

	var objects []zeroShotResponse
	if err := json.Unmarshal(trimmed, &objects); err == nil && len(objects) > 0 && len(objects[0].Labels) > 0 {
		return classify.Prediction{Labels: objects[0].Labels, Scores: objects[0].Scores}, nil
	}

	var pairs []labelScore
	if err := json.Unmarshal(trimmed, &pairs); err != nil {
		return classify.Prediction{}, fmt.Errorf("decode response: %w", err)
	}
	return fromPairs(pairs), nil
}

// fromPairs ranks label/score pairs by descending score, keeping input order on ties.
func fromPairs(pairs []labelScore) classify.Prediction {
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })

	pred := classify.Prediction{
		Labels: make([]string, 0, len(pairs)),
		Scores: make([]float64, 0, len(pairs)),
	}
	for _, p := range pairs {
		pred.Labels = append(pred.Labels, p.Label)
		pred.Scores = append(pred.Scores, p.Score)
	}
	return pred
}
