package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
	ports "fintrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Column layout of the transactions sheet: A id, B date, C type, D name,
// E category, F amount, G description.
var header = []any{"ID", "Date", "Type", "Name", "Category", "Amount", "Description"}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	balanceRange  string
}

// Ensure interface conformance
var _ ports.Exporter = (*Client)(nil)

type Options struct {
	SpreadsheetID string
	// SheetName is the tab holding one row per transaction.
	SheetName string
	// BalanceRange is an A1 cell receiving the current balance, e.g. "Summary!B1".
	BalanceRange string
	Logger       *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.SheetName) == "" {
		o.SheetName = "Transactions"
	}
	if strings.TrimSpace(o.BalanceRange) == "" {
		o.BalanceRange = "Summary!B1"
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	return o
}

// New creates a Sheets client authenticated with service account credentials.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	opts = opts.withDefaults()
	svc, err := newSheetsService(ctx, opts.Logger.WithComponent(log.ComponentSheets))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts), nil
}

// NewWithService wraps an existing service. Used with custom endpoints.
func NewWithService(svc *gsheet.Service, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		sheetName:     opts.SheetName,
		balanceRange:  opts.BalanceRange,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, logger *log.Logger) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendTransaction writes the transaction on the first empty row. A row that
// already carries the same id is left alone so redelivered events are idempotent.
func (c *Client) AppendTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	ids, err := c.readIDs(ctx)
	if err != nil {
		return "", err
	}
	if row := findRow(ids, t.ID); row > 0 {
		return fmt.Sprintf("%s!A%d:G%d", c.sheetName, row, row), nil
	}

	nextRow := len(ids) + 1
	values := [][]any{transactionRow(t)}
	if nextRow == 1 {
		// Empty sheet: write the header first.
		values = [][]any{header, transactionRow(t)}
		nextRow = 2
	}
	startRow := nextRow - len(values) + 1

	rng := fmt.Sprintf("%s!A%d:G%d", c.sheetName, startRow, nextRow)
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	return fmt.Sprintf("%s!A%d:G%d", c.sheetName, nextRow, nextRow), nil
}

// DeleteTransaction removes the row whose column A equals id.
func (c *Client) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	if c.svc == nil {
		return false, errors.New("sheets service not initialized")
	}

	ids, err := c.readIDs(ctx)
	if err != nil {
		return false, err
	}
	row := findRow(ids, id)
	if row == 0 {
		return false, nil
	}

	sp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	sheetID, err := sheetIDByTitle(sp, c.sheetName)
	if err != nil {
		return false, err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(row - 1),
					EndIndex:        int64(row),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("delete row %d: %w", row, err)
	}
	return true, nil
}

func (c *Client) WriteBalance(ctx context.Context, balance core.Money) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	vr := &gsheet.ValueRange{Values: [][]any{{balance.Float()}}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.balanceRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", c.balanceRange, err)
	}
	return nil
}

// ListTransactionIDs returns the ids in column A, skipping the header and
// blank rows.
func (c *Client) ListTransactionIDs(ctx context.Context) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	ids, err := c.readIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if id == "" || (i == 0 && id == header[0]) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *Client) readIDs(ctx context.Context) ([]string, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	ids := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			ids[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return ids, nil
}

func transactionRow(t core.Transaction) []any {
	return []any{
		t.ID,
		t.Date.String(),
		string(t.Type),
		t.Name,
		string(t.Category),
		t.Amount.Float(),
		t.Description,
	}
}

// findRow returns the 1-based row number holding id, or 0.
func findRow(ids []string, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0
	}
	for i, v := range ids {
		if v == id {
			return i + 1
		}
	}
	return 0
}

func sheetIDByTitle(sp *gsheet.Spreadsheet, title string) (int64, error) {
	for _, s := range sp.Sheets {
		if s.Properties != nil && strings.EqualFold(strings.TrimSpace(s.Properties.Title), strings.TrimSpace(title)) {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", title)
}
