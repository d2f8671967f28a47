// Package predict forecasts upcoming expenses from the expense history by
// prompting a generative model and validating what comes back.
package predict

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/core"
)

// MinHistory is the number of expense records required before the model is
// consulted.
const MinHistory = 3

const (
	DefaultPeriod   = "next month"
	maxPeriodLength = 64
)

// Periods offered to users. Any other short descriptor is accepted too.
var Periods = []string{"next week", "next month", "next quarter", "next 6 months"}

var (
	ErrInsufficientHistory = errors.New("Not enough historical data. Please add at least 3 expenses for a better prediction.")
	ErrNoOutput            = errors.New("AI failed to generate a prediction.")
	ErrInvalidPeriod       = errors.New("period must be between 1 and 64 characters")
	ErrDisabled            = errors.New("predictions are disabled")
)

// OutputError reports model output that is not a JSON object.
type OutputError struct {
	Raw string
	Err error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("model output is not a JSON object: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Generator sends a prompt to a language model and returns its raw text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// HistoryRecord is one expense as presented to the model.
type HistoryRecord struct {
	Category core.Category `json:"category"`
	Amount   core.Money    `json:"amount"`
	Date     string        `json:"date"`
}

type PredictedExpense struct {
	Category        core.Category `json:"category"`
	PredictedAmount core.Money    `json:"predictedAmount"`
	Period          string        `json:"period"`
}

type Result struct {
	PredictedExpenses []PredictedExpense `json:"predictedExpenses"`
	Summary           string             `json:"summary"`
	// RawPredictions holds model text that could not be decoded as a list.
	RawPredictions string   `json:"rawPredictions,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Total sums the predicted amounts.
func (r Result) Total() core.Money {
	var total core.Money
	for _, p := range r.PredictedExpenses {
		total = total.Add(p.PredictedAmount)
	}
	return total
}

func (r Result) clone() Result {
	r.PredictedExpenses = append([]PredictedExpense{}, r.PredictedExpenses...)
	if r.Warnings != nil {
		r.Warnings = append([]string(nil), r.Warnings...)
	}
	return r
}

// Impact previews the balance after the predicted expenses are paid.
type Impact struct {
	CurrentBalance   core.Money `json:"currentBalance"`
	TotalPredicted   core.Money `json:"totalPredicted"`
	EstimatedBalance core.Money `json:"estimatedBalance"`
	ExceedsBalance   bool       `json:"exceedsBalance"`
}

func ComputeImpact(balance core.Money, r Result) Impact {
	total := r.Total()
	est := balance.Sub(total)
	return Impact{
		CurrentBalance:   balance,
		TotalPredicted:   total,
		EstimatedBalance: est,
		ExceedsBalance:   est.IsNegative(),
	}
}

// BuildHistory keeps only expenses, in the given order.
func BuildHistory(txs []core.Transaction) []HistoryRecord {
	out := make([]HistoryRecord, 0, len(txs))
	for _, t := range txs {
		if !t.IsExpense() {
			continue
		}
		out = append(out, HistoryRecord{Category: t.Category, Amount: t.Amount, Date: t.Date.String()})
	}
	return out
}
