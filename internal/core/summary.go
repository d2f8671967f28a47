package core

import "time"

// CategoryAmount represents an amount aggregated by category.
type CategoryAmount struct {
	Category Category `json:"category"`
	Amount   Money    `json:"amount"`
}

// MonthReport is a compact summary for a specific year+month.
type MonthReport struct {
	Year       int              `json:"year"`
	Month      int              `json:"month"` // 1-12
	Income     Money            `json:"income"`
	Expenses   Money            `json:"expenses"`
	Net        Money            `json:"net"`
	ByCategory []CategoryAmount `json:"byCategory"`
}

// Snapshot is the persisted ledger state.
type Snapshot struct {
	Transactions   []Transaction `json:"transactions"`
	CurrentBalance Money         `json:"currentBalance"`
}

// DerivedBalance is sum(income) - sum(expense).
func (s Snapshot) DerivedBalance() Money {
	var total Money
	for _, t := range s.Transactions {
		total = total.Add(t.SignedAmount())
	}
	return total
}

// Validate rejects snapshots with invalid or duplicated transactions.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Transactions))
	for _, t := range s.Transactions {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return ErrDuplicateTransaction
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// BuildMonthReport aggregates the transactions dated in year/month. Category
// totals follow vocabulary order and omit empty categories.
func BuildMonthReport(txs []Transaction, year, month int) MonthReport {
	r := MonthReport{Year: year, Month: month, ByCategory: []CategoryAmount{}}
	byCat := map[Category]Money{}
	for _, t := range txs {
		if t.Date.Year() != year || t.Date.Month() != month {
			continue
		}
		if t.IsExpense() {
			r.Expenses = r.Expenses.Add(t.Amount)
			byCat[t.Category] = byCat[t.Category].Add(t.Amount)
		} else {
			r.Income = r.Income.Add(t.Amount)
		}
	}
	r.Net = r.Income.Sub(r.Expenses)
	for _, c := range ExpenseCategories() {
		if amt, ok := byCat[c]; ok {
			r.ByCategory = append(r.ByCategory, CategoryAmount{Category: c, Amount: amt})
		}
	}
	return r
}

const (
	EventTransactionCreated EventKind = "transaction.created"
	EventTransactionDeleted EventKind = "transaction.deleted"
	EventBalanceUpdated     EventKind = "balance.updated"
)

type EventKind string

// Event describes a committed ledger mutation. Seq increases with every
// commit, so consumers can discard events that arrive out of order.
type Event struct {
	Kind        EventKind    `json:"kind"`
	Seq         uint64       `json:"seq,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Balance     Money        `json:"balance"`
	OccurredAt  time.Time    `json:"occurredAt"`
}
