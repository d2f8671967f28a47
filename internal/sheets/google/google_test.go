package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/log"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// fakeSheets is a minimal Sheets API backed by an in-memory column A.
type fakeSheets struct {
	mu       sync.Mutex
	ids      []string
	updates  []string
	bodies   []string
	deleted  []int64
	sheetID  int64
	getCalls int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		f.getCalls++
		values := make([][]any, len(f.ids))
		for i, id := range f.ids {
			values[i] = []any{id}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": values})
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		b, _ := io.ReadAll(r.Body)
		f.updates = append(f.updates, path[strings.Index(path, "/values/")+len("/values/"):])
		f.bodies = append(f.bodies, string(b))
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sheets": []any{
				map[string]any{"properties": map[string]any{"sheetId": 1, "title": "Other"}},
				map[string]any{"properties": map[string]any{"sheetId": f.sheetID, "title": "Transactions"}},
			},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			if rq.DeleteDimension != nil {
				f.deleted = append(f.deleted, rq.DeleteDimension.Range.StartIndex)
			}
		}
		_, _ = w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewWithService(svc, Options{SpreadsheetID: "sheet-1"})
}

func sampleTx(id string) core.Transaction {
	return core.Transaction{
		ID:          id,
		Type:        core.TypeExpense,
		Name:        "Electricity Bill",
		Date:        core.NewDate(2024, 7, 10),
		Amount:      core.Money{Cents: 12050},
		Category:    core.Utilities,
		Description: "July",
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := newSheetsService(context.Background(), log.Discard())
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	c := NewWithService(nil, Options{SpreadsheetID: "x"})
	if c.sheetName != "Transactions" || c.balanceRange != "Summary!B1" {
		t.Fatalf("unexpected defaults: %q %q", c.sheetName, c.balanceRange)
	}
}

func TestAppendTransaction_ValidatesFirst(t *testing.T) {
	c := &Client{spreadsheetID: "test"} // svc is nil
	bad := sampleTx("")
	if _, err := c.AppendTransaction(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendTransaction_WritesHeaderOnEmptySheet(t *testing.T) {
	f := &fakeSheets{}
	c := newTestClient(t, f)

	ref, err := c.AppendTransaction(context.Background(), sampleTx("tx-1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "Transactions!A2:G2" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(f.updates) != 1 || f.updates[0] != "Transactions!A1:G2" {
		t.Fatalf("unexpected update ranges %v", f.updates)
	}
	if !strings.Contains(f.bodies[0], `"ID"`) || !strings.Contains(f.bodies[0], `"tx-1"`) {
		t.Fatalf("expected header and row in body, got %s", f.bodies[0])
	}
}

func TestAppendTransaction_NextRowAndIdempotent(t *testing.T) {
	f := &fakeSheets{ids: []string{"ID", "tx-1"}}
	c := newTestClient(t, f)

	ref, err := c.AppendTransaction(context.Background(), sampleTx("tx-2"))
	if err != nil || ref != "Transactions!A3:G3" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	ref, err = c.AppendTransaction(context.Background(), sampleTx("tx-1"))
	if err != nil || ref != "Transactions!A2:G2" {
		t.Fatalf("existing id should resolve to its row: ref=%q err=%v", ref, err)
	}
	if len(f.updates) != 1 {
		t.Fatalf("existing id must not be rewritten, updates=%v", f.updates)
	}
}

func TestDeleteTransaction(t *testing.T) {
	f := &fakeSheets{ids: []string{"ID", "tx-1", "tx-2"}, sheetID: 42}
	c := newTestClient(t, f)

	ok, err := c.DeleteTransaction(context.Background(), "tx-2")
	if err != nil || !ok {
		t.Fatalf("expected delete, got ok=%v err=%v", ok, err)
	}
	if len(f.deleted) != 1 || f.deleted[0] != 2 {
		t.Fatalf("expected zero-based start index 2, got %v", f.deleted)
	}

	ok, err = c.DeleteTransaction(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("missing id should be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestListTransactionIDs(t *testing.T) {
	f := &fakeSheets{ids: []string{"ID", "tx-1", "", "tx-3"}}
	c := newTestClient(t, f)

	ids, err := c.ListTransactionIDs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "tx-1" || ids[1] != "tx-3" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestWriteBalance(t *testing.T) {
	f := &fakeSheets{}
	c := newTestClient(t, f)

	if err := c.WriteBalance(context.Background(), core.Money{Cents: 485000000}); err != nil {
		t.Fatalf("write balance: %v", err)
	}
	if len(f.updates) != 1 || f.updates[0] != "Summary!B1" {
		t.Fatalf("unexpected updates %v", f.updates)
	}
	if !strings.Contains(f.bodies[0], "4.85e+06") && !strings.Contains(f.bodies[0], "4850000") {
		t.Fatalf("unexpected body %s", f.bodies[0])
	}
}

func TestFindRowAndSheetID(t *testing.T) {
	ids := []string{"ID", "a", "", "b"}
	if findRow(ids, "b") != 4 || findRow(ids, "zz") != 0 || findRow(ids, "") != 0 {
		t.Fatalf("unexpected findRow results")
	}

	sp := &gsheet.Spreadsheet{Sheets: []*gsheet.Sheet{
		{Properties: &gsheet.SheetProperties{SheetId: 9, Title: "transactions"}},
	}}
	if id, err := sheetIDByTitle(sp, "Transactions"); err != nil || id != 9 {
		t.Fatalf("expected 9, got %d (err=%v)", id, err)
	}
	if _, err := sheetIDByTitle(sp, "Nope"); err == nil {
		t.Fatalf("expected error for unknown sheet")
	}
}
