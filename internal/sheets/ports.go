package sheets

import (
	"context"

	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	TransactionWriter interface {
		AppendTransaction(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}

	// TransactionDeleter removes the row holding the transaction with the given
	// id. It reports false when no such row exists.
	TransactionDeleter interface {
		DeleteTransaction(ctx context.Context, id string) (bool, error)
	}

	BalanceWriter interface {
		WriteBalance(ctx context.Context, balance core.Money) error
	}

	// TransactionLister returns the ids of every exported transaction row.
	TransactionLister interface {
		ListTransactionIDs(ctx context.Context) ([]string, error)
	}

	// Exporter mirrors the ledger into an external spreadsheet.
	Exporter interface {
		TransactionWriter
		TransactionDeleter
		BalanceWriter
		TransactionLister
	}
)
