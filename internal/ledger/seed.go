package ledger

import (
	"time"

	"fintrack/internal/core"
)

var seedCreatedAt = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)

// SeedSnapshot is installed when no usable snapshot is stored. Its balance
// equals income minus expenses.
func SeedSnapshot() core.Snapshot {
	tx := func(id string, typ core.TransactionType, name string, units int64, cat core.Category, day int, desc string) core.Transaction {
		return core.Transaction{
			ID:          id,
			Type:        typ,
			Name:        name,
			Date:        core.NewDate(2024, 7, day),
			Amount:      core.MoneyFromUnits(units),
			Description: desc,
			Category:    cat,
			CreatedAt:   seedCreatedAt,
		}
	}
	return core.Snapshot{
		Transactions: []core.Transaction{
			tx("seed-6", core.TypeExpense, "New Book", 50000, core.Shopping, 15, ""),
			tx("seed-5", core.TypeExpense, "Dinner with Friends", 120500, core.FoodAndDining, 12, "Italian place"),
			tx("seed-4", core.TypeExpense, "Gas Bill", 175500, core.Utilities, 10, ""),
			tx("seed-3", core.TypeExpense, "Netflix Subscription", 54000, core.Subscriptions, 5, "Monthly plan"),
			tx("seed-2", core.TypeExpense, "Monthly Groceries", 250000, core.Groceries, 1, "Aldi haul"),
			tx("seed-1", core.TypeIncome, "Monthly Salary", 5500000, core.FundsAdded, 1, ""),
		},
		CurrentBalance: core.MoneyFromUnits(4850000),
	}
}
