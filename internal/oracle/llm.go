package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/transaction-classifier/internal/classify"
)

const llmSystemPrompt = "You are a financial transaction classifier. You score how well each candidate label " +
	"completes a hypothesis about a transaction. Respond only with JSON."

// buildLLMPrompt renders the user prompt asking the model to score every candidate.
func buildLLMPrompt(text string, candidates []string, template string) string {
	var b strings.Builder
	b.WriteString("Transaction: ")
	b.WriteString(text)
	b.WriteString("\n\n")

	if template != "" {
		b.WriteString("Hypothesis: \"")
		b.WriteString(template)
		b.WriteString("\" where {} is replaced by a candidate label.\n\n")
	}

	b.WriteString("Candidate labels:\n")
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}

	b.WriteString("\nRules:\n" +
		"- Give every candidate label a score between 0 and 1; scores should sum to 1.\n" +
		"- Use the candidate labels exactly as written.\n\n" +
		"Return ONLY valid raw JSON.\n" +
		"Do NOT wrap the response in code fences.\n" +
		"Output must be an array of objects like [{\"label\": \"...\", \"score\": 0.9}].\n")

	return b.String()
}

// parseLLMScores turns a model answer into a ranked prediction. Labels the
// model invented are dropped and candidates it omitted get a score of 0.
func parseLLMScores(raw string, candidates []string) (classify.Prediction, error) {
	clean := cleanModelJSON(raw)

	var pairs []labelScore
	if err := json.Unmarshal([]byte(clean), &pairs); err != nil {
		return classify.Prediction{}, fmt.Errorf("parseLLMScores: unmarshal JSON: %w\nraw response: %s", err, raw)
	}

	scores := make(map[string]float64, len(candidates))
	for _, p := range pairs {
		label := matchCandidate(p.Label, candidates)
		if label == "" {
			continue
		}
		if _, seen := scores[label]; !seen {
			scores[label] = p.Score
		}
	}
	if len(scores) == 0 {
		return classify.Prediction{}, fmt.Errorf("parseLLMScores: no candidate labels in response: %s", raw)
	}

	ranked := make([]labelScore, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, labelScore{Label: c, Score: scores[c]})
	}
	return fromPairs(ranked), nil
}

// matchCandidate maps a model-produced label to a candidate, ignoring case and
// surrounding whitespace.
func matchCandidate(label string, candidates []string) string {
	label = strings.TrimSpace(label)
	for _, c := range candidates {
		if c == label {
			return c
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c, label) {
			return c
		}
	}
	return ""
}

// cleanModelJSON strips Markdown fences and any text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}

	return s
}
