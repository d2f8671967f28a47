package predict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fintrack/internal/core"
)

const defaultSummary = "The model did not provide a summary for this prediction."

type rawItem struct {
	Category        string          `json:"category"`
	PredictedAmount json.RawMessage `json:"predictedAmount"`
	Period          string          `json:"period"`
}

// ParseOutput validates raw model text. Only empty text and text that is not
// a JSON object fail; every other defect is repaired and reported in Warnings.
func ParseOutput(raw, period string) (Result, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return Result{}, ErrNoOutput
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return Result{}, &OutputError{Raw: raw, Err: err}
	}
	if obj == nil {
		return Result{}, &OutputError{Raw: raw, Err: errors.New("null object")}
	}

	res := Result{PredictedExpenses: []PredictedExpense{}}
	items, rawText, warn := decodePredictions(obj["predictedExpenses"])
	if warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}
	res.RawPredictions = rawText

	for i, it := range items {
		p, warn := validateItem(it, period)
		if warn != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("item %d: %s", i, warn))
		}
		if p != nil {
			res.PredictedExpenses = append(res.PredictedExpenses, *p)
		}
	}

	var summary string
	if s, ok := obj["summary"]; ok {
		_ = json.Unmarshal(s, &summary)
	}
	res.Summary = strings.TrimSpace(summary)
	if res.Summary == "" {
		res.Summary = defaultSummary
		res.Warnings = append(res.Warnings, "summary missing")
	}
	return res, nil
}

// decodePredictions accepts a list, or a string holding a JSON list. A string
// that does not decode is returned verbatim as raw text.
func decodePredictions(msg json.RawMessage) (items []json.RawMessage, rawText, warning string) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", "predictedExpenses missing"
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, "", "predictedExpenses is not a valid list"
		}
		return items, "", ""
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, "", "predictedExpenses is not a valid string"
		}
		inner := cleanModelJSON(s)
		if err := json.Unmarshal([]byte(inner), &items); err != nil {
			return nil, s, "predictedExpenses could not be parsed; returning raw text"
		}
		return items, "", "predictedExpenses was delivered as a string"
	default:
		return nil, "", "predictedExpenses has an unexpected shape"
	}
}

func validateItem(msg json.RawMessage, period string) (*PredictedExpense, string) {
	var it rawItem
	if err := json.Unmarshal(msg, &it); err != nil {
		return nil, "dropped malformed entry"
	}

	var amount core.Money
	if len(it.PredictedAmount) == 0 {
		return nil, fmt.Sprintf("dropped %q with missing amount", it.Category)
	}
	if err := amount.UnmarshalJSON(it.PredictedAmount); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			return nil, fmt.Sprintf("dropped %q with amount out of range", it.Category)
		}
		return nil, fmt.Sprintf("dropped %q with invalid amount", it.Category)
	}
	if amount.Cents <= 0 {
		return nil, fmt.Sprintf("dropped %q with non-positive amount", it.Category)
	}

	p := &PredictedExpense{PredictedAmount: amount, Period: strings.TrimSpace(it.Period)}
	if p.Period == "" {
		p.Period = period
	}

	var warning string
	cat, err := core.ParseCategory(it.Category)
	switch {
	case err != nil:
		p.Category = core.Other
		warning = fmt.Sprintf("unknown category %q mapped to %s", it.Category, core.Other)
	case !cat.IsExpense():
		p.Category = core.Other
		warning = fmt.Sprintf("income category %q mapped to %s", it.Category, core.Other)
	default:
		p.Category = cat
	}
	return p, warning
}

// cleanModelJSON strips Markdown fences and any prose around the outermost
// JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return strings.Trim(s, "`")
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
