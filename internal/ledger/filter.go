package ledger

import (
	"strings"

	"fintrack/internal/core"
)

// Filter selects transactions. Zero fields match everything.
type Filter struct {
	Year     int
	Month    int // 1-12
	Type     core.TransactionType
	Category core.Category
	// Query matches name or description, case-insensitively.
	Query string
	Limit int
}

func (f Filter) match(t core.Transaction) bool {
	if f.Year != 0 && t.Date.Year() != f.Year {
		return false
	}
	if f.Month != 0 && t.Date.Month() != f.Month {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(t.Name), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

func (f Filter) apply(txs []core.Transaction) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, t := range txs {
		if !f.match(t) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
