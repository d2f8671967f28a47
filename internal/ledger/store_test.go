package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

var fixedNow = time.Date(2024, 8, 3, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// failingStore fails every Put after the first `okPuts` calls.
type failingStore struct {
	*storage.MemoryStore
	okPuts int
	puts   int
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	f.puts++
	if f.puts > f.okPuts {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, data)
}

// flakyGetStore fails the first `failGets` reads.
type flakyGetStore struct {
	*storage.MemoryStore
	failGets int
	gets     int
}

func (f *flakyGetStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.gets++
	if f.gets <= f.failGets {
		return nil, errors.New("backend unavailable")
	}
	return f.MemoryStore.Get(ctx, key)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func openSeeded(t *testing.T, opts ...Option) (*Store, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithIDGenerator(sequentialIDs())}, opts...)
	s, err := Open(context.Background(), mem, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, mem
}

func expense(name string, units int64, cat core.Category, date core.Date) core.NewExpense {
	return core.NewExpense{Name: name, Amount: core.MoneyFromUnits(units), Category: cat, Date: date}
}

func TestLoadSeedsWhenMissing(t *testing.T) {
	s, mem := openSeeded(t)

	if got := s.Balance(); got != core.MoneyFromUnits(4850000) {
		t.Fatalf("expected seed balance 4850000, got %s", got)
	}
	if len(s.Transactions(Filter{})) != 6 {
		t.Fatalf("expected 6 seed transactions")
	}
	if s.Drift().Cents != 0 {
		t.Fatalf("seed must satisfy derived balance, drift=%s", s.Drift())
	}
	if _, err := mem.Get(context.Background(), SnapshotKey); err != nil {
		t.Fatalf("seed should be persisted: %v", err)
	}
}

func TestLoadReseedsCorruptBlob(t *testing.T) {
	for name, blob := range map[string]string{
		"not json":         `{"transactions": [`,
		"missing list":     `{"currentBalance": 10}`,
		"invalid category": `{"transactions":[{"id":"x","type":"expense","name":"Rent","date":"2024-07-01","amount":5,"category":"Funds Added"}],"currentBalance":1}`,
		"duplicate ids":    `{"transactions":[{"id":"x","type":"income","name":"Pay","date":"2024-07-01","amount":5,"category":"Funds Added"},{"id":"x","type":"income","name":"Pay","date":"2024-07-01","amount":5,"category":"Funds Added"}],"currentBalance":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			_ = mem.Put(context.Background(), SnapshotKey, []byte(blob))

			s, err := Open(context.Background(), mem)
			if err != nil {
				t.Fatalf("corrupt data must not fail load: %v", err)
			}
			if s.Balance() != core.MoneyFromUnits(4850000) {
				t.Fatalf("expected reseed, balance=%s", s.Balance())
			}
		})
	}
}

func TestLoadReadsPersistedState(t *testing.T) {
	mem := storage.NewMemoryStore()
	blob := `{"transactions":[
		{"id":"a","type":"expense","name":"Older","date":"2024-07-01","amount":10,"category":"Other"},
		{"id":"b","type":"expense","name":"Newer","date":"2024-07-20T00:00:00.000Z","amount":20.5,"category":"Travel"}
	],"currentBalance":120.25}`
	_ = mem.Put(context.Background(), SnapshotKey, []byte(blob))

	s, err := Open(context.Background(), mem)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Balance().Cents != 12025 {
		t.Fatalf("unexpected balance %s", s.Balance())
	}
	txs := s.Transactions(Filter{})
	if len(txs) != 2 || txs[0].ID != "b" || txs[0].Amount.Cents != 2050 {
		t.Fatalf("expected newest first, got %+v", txs)
	}
}

func TestLoadReadErrorKeepsStoredData(t *testing.T) {
	mem := storage.NewMemoryStore()
	blob := `{"transactions":[{"id":"a","type":"expense","name":"Rent","date":"2024-07-01","amount":10,"category":"Housing"}],"currentBalance":123}`
	_ = mem.Put(context.Background(), SnapshotKey, []byte(blob))
	flaky := &flakyGetStore{MemoryStore: mem, failGets: 1}

	s := New(flaky)
	if err := s.Load(context.Background()); err == nil {
		t.Fatal("expected read error to be returned")
	}
	if s.Ready() {
		t.Error("store must not be ready after a failed load")
	}

	raw, _ := mem.Get(context.Background(), SnapshotKey)
	if string(raw) != blob {
		t.Fatalf("stored snapshot was overwritten: %s", raw)
	}

	// The next attempt succeeds and sees the user's data.
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if s.Balance() != core.MoneyFromUnits(123) || len(s.Transactions(Filter{})) != 1 {
		t.Fatalf("unexpected state: balance=%s txs=%d", s.Balance(), len(s.Transactions(Filter{})))
	}
}

func TestDecodeSnapshotMarksCorruption(t *testing.T) {
	for _, blob := range []string{`not json`, `{}`, `{"transactions":[{"id":"","type":"expense"}]}`} {
		if _, err := DecodeSnapshot([]byte(blob)); !errors.Is(err, ErrCorruptSnapshot) {
			t.Errorf("DecodeSnapshot(%q) error = %v, want ErrCorruptSnapshot", blob, err)
		}
	}
}

func TestBalanceScenario(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	tx, err := s.AddExpense(ctx, expense("Flight", 150000, core.Travel, core.NewDate(2024, 7, 20)))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := s.Balance(); got != core.MoneyFromUnits(4700000) {
		t.Fatalf("expected 4700000, got %s", got)
	}

	ok, err := s.DeleteTransaction(ctx, tx.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if got := s.Balance(); got != core.MoneyFromUnits(4850000) {
		t.Fatalf("expected 4850000, got %s", got)
	}
}

func TestDeleteThenReAddRestoresBalance(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	in := expense("Concert", 3000, core.Entertainment, core.NewDate(2024, 7, 2))
	before := s.Balance()
	tx, _ := s.AddExpense(ctx, in)
	after := s.Balance()

	_, _ = s.DeleteTransaction(ctx, tx.ID)
	if s.Balance() != before {
		t.Fatalf("delete should restore %s, got %s", before, s.Balance())
	}
	_, _ = s.AddExpense(ctx, in)
	if s.Balance() != after {
		t.Fatalf("re-add should yield %s, got %s", after, s.Balance())
	}
}

func TestDerivedBalanceAcrossSequence(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	a, _ := s.AddExpense(ctx, expense("Taxi", 40, core.Transport, core.NewDate(2024, 7, 3)))
	_, _ = s.AddFunds(ctx, core.MoneyFromUnits(900), "Bonus")
	_, _ = s.AddExpense(ctx, expense("Pharmacy", 75, core.Healthcare, core.NewDate(2024, 6, 28)))
	_, _ = s.DeleteTransaction(ctx, a.ID)
	_, _ = s.DeleteTransaction(ctx, "seed-1")

	snap := s.Snapshot()
	if snap.CurrentBalance != snap.DerivedBalance() {
		t.Fatalf("balance %s != derived %s", snap.CurrentBalance, snap.DerivedBalance())
	}
	if !s.Balance().IsNegative() {
		t.Fatalf("removing the salary should push the balance negative, got %s", s.Balance())
	}
}

func TestAddExpenseRejectsIncomeCategory(t *testing.T) {
	s, _ := openSeeded(t)
	_, err := s.AddExpense(context.Background(), expense("Refund", 10, core.FundsAdded, core.NewDate(2024, 7, 1)))
	if !errors.Is(err, core.ErrIncomeCategory) {
		t.Fatalf("expected ErrIncomeCategory, got %v", err)
	}
	if s.Balance() != core.MoneyFromUnits(4850000) {
		t.Fatalf("rejected expense must not change balance")
	}
}

func TestAddExpenseOrdering(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	old, _ := s.AddExpense(ctx, expense("Old Lunch", 10, core.FoodAndDining, core.NewDate(2024, 6, 1)))
	sameDay, _ := s.AddExpense(ctx, expense("Second Book", 10, core.Shopping, core.NewDate(2024, 7, 15)))

	txs := s.Transactions(Filter{})
	if txs[0].ID != sameDay.ID || txs[1].ID != "seed-6" {
		t.Fatalf("new record should lead its day, got %s then %s", txs[0].ID, txs[1].ID)
	}
	if txs[len(txs)-1].ID != old.ID {
		t.Fatalf("oldest date should be last, got %s", txs[len(txs)-1].ID)
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].Date.After(txs[i-1].Date.Time) {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestAddFunds(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	tx, err := s.AddFunds(ctx, core.MoneyFromUnits(1000), "Gift Received")
	if err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if tx.Type != core.TypeIncome || tx.Category != core.FundsAdded || tx.Name != "Gift Received" {
		t.Fatalf("unexpected income %+v", tx)
	}
	if tx.Date != core.NewDate(2024, 8, 3) || !tx.CreatedAt.Equal(fixedNow) {
		t.Fatalf("income should be dated by the store clock, got %s / %s", tx.Date, tx.CreatedAt)
	}
	if s.Balance() != core.MoneyFromUnits(4851000) {
		t.Fatalf("unexpected balance %s", s.Balance())
	}

	tx, _ = s.AddFunds(ctx, core.MoneyFromUnits(1), "")
	if tx.Name != "Funds Added" {
		t.Fatalf("expected default name, got %q", tx.Name)
	}

	if _, err := s.AddFunds(ctx, core.Money{}, "zero"); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	pub := &recordingPublisher{}
	s, _ := openSeeded(t, WithPublisher(pub))
	ok, err := s.DeleteTransaction(context.Background(), "nope")
	if ok || err != nil {
		t.Fatalf("expected no-op, got ok=%v err=%v", ok, err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("no-op delete must not publish")
	}
}

func TestUpdateCurrentBalance(t *testing.T) {
	pub := &recordingPublisher{}
	s, mem := openSeeded(t, WithPublisher(pub))
	ctx := context.Background()

	if err := s.UpdateCurrentBalance(ctx, core.MoneyFromUnits(100)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.Balance() != core.MoneyFromUnits(100) {
		t.Fatalf("balance should be overwritten")
	}
	if s.Drift() != core.MoneyFromUnits(100 - 4850000) {
		t.Fatalf("unexpected drift %s", s.Drift())
	}
	if len(s.Transactions(Filter{})) != 6 {
		t.Fatalf("transactions must be untouched")
	}
	if len(pub.events) != 1 || pub.events[0].Kind != core.EventBalanceUpdated {
		t.Fatalf("expected balance event, got %+v", pub.events)
	}

	reloaded, err := Open(ctx, mem)
	if err != nil || reloaded.Balance() != core.MoneyFromUnits(100) {
		t.Fatalf("overwrite should persist, got %s (err=%v)", reloaded.Balance(), err)
	}

	if err := s.UpdateCurrentBalance(ctx, core.Money{Cents: -1}); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
	if err := s.UpdateCurrentBalance(ctx, core.Money{}); err != nil {
		t.Fatalf("zero balance is allowed: %v", err)
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	fs := &failingStore{MemoryStore: storage.NewMemoryStore(), okPuts: 1} // seed write succeeds
	s, err := Open(context.Background(), fs)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = s.AddExpense(context.Background(), expense("Rent", 100, core.Housing, core.NewDate(2024, 7, 1)))
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if s.Balance() != core.MoneyFromUnits(4850000) || len(s.Transactions(Filter{})) != 6 {
		t.Fatalf("failed write must not commit")
	}

	ok, err := s.DeleteTransaction(context.Background(), "seed-1")
	if err == nil || ok {
		t.Fatalf("expected delete to fail, got ok=%v err=%v", ok, err)
	}
	if len(s.Transactions(Filter{})) != 6 {
		t.Fatalf("failed delete must not commit")
	}
}

func TestLoadFailsWhenSeedCannotPersist(t *testing.T) {
	fs := &failingStore{MemoryStore: storage.NewMemoryStore()}
	if _, err := Open(context.Background(), fs); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMutationsRequireLoad(t *testing.T) {
	s := New(storage.NewMemoryStore())
	if _, err := s.AddFunds(context.Background(), core.MoneyFromUnits(1), ""); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if s.Ready() {
		t.Fatalf("store should not be ready")
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s, _ := openSeeded(t, WithPublisher(pub))
	ctx := context.Background()

	tx, err := s.AddExpense(ctx, expense("Gym", 30, core.PersonalCare, core.NewDate(2024, 7, 9)))
	if err != nil {
		t.Fatalf("publish failures must not fail the mutation: %v", err)
	}
	_, _ = s.DeleteTransaction(ctx, tx.ID)

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	created, deleted := pub.events[0], pub.events[1]
	if created.Kind != core.EventTransactionCreated || created.Transaction.ID != tx.ID {
		t.Fatalf("unexpected created event %+v", created)
	}
	if created.Balance != core.MoneyFromUnits(4850000-30) {
		t.Fatalf("event should carry post-commit balance, got %s", created.Balance)
	}
	if deleted.Kind != core.EventTransactionDeleted || deleted.Transaction.ID != tx.ID {
		t.Fatalf("unexpected deleted event %+v", deleted)
	}
}

func TestFilters(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()
	_, _ = s.AddExpense(ctx, core.NewExpense{Name: "June Rent", Amount: core.MoneyFromUnits(10), Category: core.Housing, Date: core.NewDate(2024, 6, 1), Description: "landlord"})

	cases := []struct {
		name string
		f    Filter
		want int
	}{
		{"all", Filter{}, 7},
		{"july", Filter{Year: 2024, Month: 7}, 6},
		{"june", Filter{Year: 2024, Month: 6}, 1},
		{"other year", Filter{Year: 2023}, 0},
		{"income", Filter{Type: core.TypeIncome}, 1},
		{"expenses", Filter{Type: core.TypeExpense}, 6},
		{"category", Filter{Category: core.Utilities}, 1},
		{"query name", Filter{Query: "netflix"}, 1},
		{"query description", Filter{Query: "LANDLORD"}, 1},
		{"limit", Filter{Limit: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(s.Transactions(tc.f)); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}

	if got := s.Recent(5); len(got) != 5 || got[0].ID != "seed-6" {
		t.Fatalf("unexpected recent %+v", got)
	}
	if len(s.Expenses()) != 6 {
		t.Fatalf("expected 6 expenses")
	}
}

func TestMonthReport(t *testing.T) {
	s, _ := openSeeded(t)
	r := s.MonthReport(2024, 7)
	if r.Income != core.MoneyFromUnits(5500000) || r.Expenses != core.MoneyFromUnits(650000) || r.Net != core.MoneyFromUnits(4850000) {
		t.Fatalf("unexpected report %+v", r)
	}
	if len(r.ByCategory) != 5 || r.ByCategory[0].Category != core.Groceries {
		t.Fatalf("unexpected categories %+v", r.ByCategory)
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	s, mem := openSeeded(t)
	_, _ = s.AddFunds(context.Background(), core.MoneyFromUnits(5), "tip jar")

	raw, _ := mem.Get(context.Background(), SnapshotKey)
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := generic["transactions"]; !ok {
		t.Fatalf("missing transactions key in %s", raw)
	}
	if string(generic["currentBalance"]) != "4850005" {
		t.Fatalf("balance should be a JSON number, got %s", generic["currentBalance"])
	}
}

func TestConcurrentMutations(t *testing.T) {
	s, _ := openSeeded(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddExpense(ctx, expense("Coffee", 1, core.FoodAndDining, core.NewDate(2024, 7, 4)))
		}()
	}
	wg.Wait()

	if s.Balance() != core.MoneyFromUnits(4850000-20) {
		t.Fatalf("lost update: %s", s.Balance())
	}
	if s.Drift().Cents != 0 {
		t.Fatalf("unexpected drift %s", s.Drift())
	}
}

func TestEventSequenceFollowsCommitOrder(t *testing.T) {
	pub := &recordingPublisher{}
	s, _ := openSeeded(t, WithPublisher(pub))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddExpense(ctx, expense("Coffee", 1, core.FoodAndDining, core.NewDate(2024, 7, 4)))
		}()
	}
	wg.Wait()

	events := slices.Clone(pub.events)
	if len(events) != 20 {
		t.Fatalf("expected 20 events, got %d", len(events))
	}
	slices.SortFunc(events, func(a, b core.Event) int { return cmp.Compare(a.Seq, b.Seq) })
	for i, ev := range events {
		if i > 0 && ev.Seq != events[i-1].Seq+1 {
			t.Fatalf("sequence gap between %d and %d", events[i-1].Seq, ev.Seq)
		}
		want := core.MoneyFromUnits(4850000 - int64(i) - 1)
		if ev.Balance != want {
			t.Fatalf("event %d carries balance %s, want %s", ev.Seq, ev.Balance, want)
		}
	}
}
