package memory

import (
	"context"
	"testing"

	"fintrack/internal/core"
)

func tx(id string) core.Transaction {
	return core.Transaction{
		ID:       id,
		Type:     core.TypeExpense,
		Name:     "Groceries run",
		Date:     core.NewDate(2024, 7, 1),
		Amount:   core.Money{Cents: 123},
		Category: core.Groceries,
	}
}

func TestMemoryStoreAppendDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	ref, err := s.AppendTransaction(ctx, tx("a"))
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	// Redelivery keeps a single row.
	ref, err = s.AppendTransaction(ctx, tx("a"))
	if err != nil || ref != "mem:1" || len(s.Rows()) != 1 {
		t.Fatalf("unexpected re-append: ref=%q err=%v rows=%d", ref, err, len(s.Rows()))
	}
	if _, err := s.AppendTransaction(ctx, tx("b")); err != nil {
		t.Fatalf("append b: %v", err)
	}

	ok, err := s.DeleteTransaction(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected delete, got ok=%v err=%v", ok, err)
	}
	ok, _ = s.DeleteTransaction(ctx, "a")
	if ok {
		t.Fatalf("second delete must report not found")
	}
	if rows := s.Rows(); len(rows) != 1 || rows[0].ID != "b" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	bad := tx("")
	if _, err := New().AppendTransaction(context.Background(), bad); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestMemoryStoreBalance(t *testing.T) {
	s := New()
	_ = s.WriteBalance(context.Background(), core.Money{Cents: 500})
	if s.Balance().Cents != 500 {
		t.Fatalf("unexpected balance %v", s.Balance())
	}
}

func TestMemoryStoreListTransactionIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.AppendTransaction(ctx, tx(id)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if _, err := s.DeleteTransaction(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ids, err := s.ListTransactionIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("ids = %v, want [a c]", ids)
	}
}
