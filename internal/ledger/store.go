// Package ledger owns the authoritative transaction list and current
// balance. Every mutation is persisted as one JSON snapshot before it becomes
// visible to readers.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// SnapshotKey is the storage key of the persisted ledger.
const SnapshotKey = "finTrackData"

const defaultIncomeName = "Funds Added"

var (
	ErrNotLoaded       = errors.New("ledger not loaded")
	ErrNegativeBalance = errors.New("balance cannot be negative")
	// ErrCorruptSnapshot marks a stored blob that cannot be decoded or fails
	// validation.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Publisher receives committed ledger events.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event) error
}

type Option func(*Store)

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithClock overrides the time source used for "today" and createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentLedger) }
}

type Store struct {
	backend   storage.SnapshotStore
	publisher Publisher
	now       func() time.Time
	newID     func() string
	logger    *log.Logger

	mu      sync.RWMutex
	loaded  bool
	txs     []core.Transaction
	balance core.Money
	seq     uint64
}

func New(backend storage.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Starting from the clock keeps sequences increasing across restarts.
	s.seq = uint64(s.now().UnixNano())
	return s
}

// Open creates a store and loads its state.
func Open(ctx context.Context, backend storage.SnapshotStore, opts ...Option) (*Store, error) {
	s := New(backend, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads the persisted snapshot. A missing or corrupt snapshot is
// replaced by the seed data, which is then persisted. Backend read failures
// are returned so a transient outage never overwrites stored data.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := ReadSnapshot(ctx, s.backend)
	if err == nil {
		s.install(snap)
		s.logger.InfoContext(ctx, "Ledger loaded",
			"transactions", len(snap.Transactions),
			log.FieldBalanceCents, snap.CurrentBalance.Cents)
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.InfoContext(ctx, "No stored ledger, installing seed data", log.FieldOperation, log.OpSeed)
	case errors.Is(err, ErrCorruptSnapshot):
		s.logger.WarnContext(ctx, "Stored ledger unusable, installing seed data",
			log.FieldOperation, log.OpSeed, log.FieldError, err)
	default:
		return fmt.Errorf("read snapshot: %w", err)
	}

	seed := SeedSnapshot()
	if err := s.persist(ctx, seed); err != nil {
		return fmt.Errorf("persist seed: %w", err)
	}
	s.install(seed)
	return nil
}

// ReadSnapshot fetches and decodes the stored snapshot.
func ReadSnapshot(ctx context.Context, backend storage.SnapshotStore) (core.Snapshot, error) {
	raw, err := backend.Get(ctx, SnapshotKey)
	if err != nil {
		return core.Snapshot{}, err
	}
	return DecodeSnapshot(raw)
}

// DecodeSnapshot parses and validates a snapshot blob.
func DecodeSnapshot(raw []byte) (core.Snapshot, error) {
	var snap core.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: decode: %v", ErrCorruptSnapshot, err)
	}
	if snap.Transactions == nil {
		return core.Snapshot{}, fmt.Errorf("%w: missing transactions", ErrCorruptSnapshot)
	}
	if err := snap.Validate(); err != nil {
		return core.Snapshot{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	return snap, nil
}

func (s *Store) install(snap core.Snapshot) {
	s.txs = append([]core.Transaction{}, snap.Transactions...)
	sortByDateDesc(s.txs)
	s.balance = snap.CurrentBalance
	s.loaded = true
}

func (s *Store) persist(ctx context.Context, snap core.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.backend.Put(ctx, SnapshotKey, b); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// commit persists the candidate state and installs it only when the write succeeded.
// commit persists and installs new state, returning the event sequence
// number assigned to the mutation. Callers must hold s.mu.
func (s *Store) commit(ctx context.Context, txs []core.Transaction, balance core.Money) (uint64, error) {
	if err := s.persist(ctx, core.Snapshot{Transactions: txs, CurrentBalance: balance}); err != nil {
		return 0, err
	}
	s.txs = txs
	s.balance = balance
	s.seq++
	return s.seq, nil
}

// AddExpense records an expense and deducts it from the balance.
func (s *Store) AddExpense(ctx context.Context, in core.NewExpense) (core.Transaction, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		Type:        core.TypeExpense,
		Name:        in.Name,
		Date:        in.Date,
		Amount:      in.Amount,
		Description: in.Description,
		Category:    in.Category,
	}
	return s.insert(ctx, t)
}

// AddFunds records income dated today and adds it to the balance. The
// description, when it fits, doubles as the transaction name.
func (s *Store) AddFunds(ctx context.Context, amount core.Money, description string) (core.Transaction, error) {
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, err
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > 500 {
		return core.Transaction{}, core.ErrDescriptionTooLong
	}

	name := defaultIncomeName
	if n := utf8.RuneCountInString(description); n >= 2 && n <= 100 {
		name = description
	}

	t := core.Transaction{
		Type:        core.TypeIncome,
		Name:        name,
		Date:        core.DateOf(s.now()),
		Amount:      amount,
		Description: description,
		Category:    core.FundsAdded,
	}
	return s.insert(ctx, t)
}

func (s *Store) insert(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return core.Transaction{}, ErrNotLoaded
	}

	t.ID = s.newID()
	t.CreatedAt = s.now().UTC()
	if err := t.Validate(); err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}

	txs := make([]core.Transaction, 0, len(s.txs)+1)
	txs = append(txs, t)
	txs = append(txs, s.txs...)
	sortByDateDesc(txs)

	balance := s.balance.Add(t.SignedAmount())
	seq, err := s.commit(ctx, txs, balance)
	if err != nil {
		s.mu.Unlock()
		return core.Transaction{}, err
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Transaction added",
		log.FieldTransactionID, t.ID,
		log.FieldType, t.Type,
		log.FieldCategory, t.Category,
		log.FieldAmountCents, t.Amount.Cents,
		log.FieldBalanceCents, balance.Cents)

	s.publish(ctx, core.Event{Kind: core.EventTransactionCreated, Seq: seq, Transaction: &t, Balance: balance, OccurredAt: t.CreatedAt})
	return t, nil
}

// DeleteTransaction removes a transaction and reverses its balance effect.
// It reports false, without error, when the id is unknown.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return false, ErrNotLoaded
	}

	idx := -1
	for i, t := range s.txs {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}

	removed := s.txs[idx]
	txs := make([]core.Transaction, 0, len(s.txs)-1)
	txs = append(txs, s.txs[:idx]...)
	txs = append(txs, s.txs[idx+1:]...)

	balance := s.balance.Sub(removed.SignedAmount())
	seq, err := s.commit(ctx, txs, balance)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, removed.ID,
		log.FieldType, removed.Type,
		log.FieldAmountCents, removed.Amount.Cents,
		log.FieldBalanceCents, balance.Cents)

	s.publish(ctx, core.Event{Kind: core.EventTransactionDeleted, Seq: seq, Transaction: &removed, Balance: balance, OccurredAt: s.now().UTC()})
	return true, nil
}

// UpdateCurrentBalance overwrites the stored balance without touching the
// transaction list. The resulting divergence from the derived balance is
// reported by Drift.
func (s *Store) UpdateCurrentBalance(ctx context.Context, balance core.Money) error {
	if balance.IsNegative() {
		return ErrNegativeBalance
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	seq, err := s.commit(ctx, s.txs, balance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	drift := s.driftLocked()
	s.mu.Unlock()

	if drift.Cents != 0 {
		s.logger.WarnContext(ctx, "Balance overwritten, stored balance diverges from transactions",
			log.FieldBalanceCents, balance.Cents,
			log.FieldDriftCents, drift.Cents)
	} else {
		s.logger.InfoContext(ctx, "Balance updated", log.FieldBalanceCents, balance.Cents)
	}

	s.publish(ctx, core.Event{Kind: core.EventBalanceUpdated, Seq: seq, Balance: balance, OccurredAt: s.now().UTC()})
	return nil
}

func (s *Store) publish(ctx context.Context, ev core.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", ev.Kind,
			log.FieldOperation, log.OpPublish,
			log.FieldError, err)
	}
}

// Transactions returns the matching transactions, newest date first.
func (s *Store) Transactions(f Filter) []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f.apply(s.txs)
}

// Recent returns the n newest transactions.
func (s *Store) Recent(n int) []core.Transaction {
	if n <= 0 {
		return []core.Transaction{}
	}
	return s.Transactions(Filter{Limit: n})
}

// Expenses returns every expense, newest date first.
func (s *Store) Expenses() []core.Transaction {
	return s.Transactions(Filter{Type: core.TypeExpense})
}

func (s *Store) Balance() core.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Snapshot{
		Transactions:   append([]core.Transaction{}, s.txs...),
		CurrentBalance: s.balance,
	}
}

// Drift is the stored balance minus income minus expenses. It is non-zero
// only after UpdateCurrentBalance.
func (s *Store) Drift() core.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.driftLocked()
}

func (s *Store) driftLocked() core.Money {
	snap := core.Snapshot{Transactions: s.txs}
	return s.balance.Sub(snap.DerivedBalance())
}

// MonthReport aggregates the transactions dated in year/month.
func (s *Store) MonthReport(year, month int) core.MonthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.BuildMonthReport(s.txs, year, month)
}

// Today is the store clock's current date.
func (s *Store) Today() core.Date {
	return core.DateOf(s.now())
}

// Ready reports whether state has been loaded.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// sortByDateDesc orders by date, newest first. Equal dates keep their
// relative order, so a freshly prepended record leads its day.
func sortByDateDesc(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.After(txs[j].Date.Time)
	})
}
