package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/atm-cli/internal/domain"
)

// MemoryRepository is an in-memory implementation of Repository. Atomic units run
// against a copy of the state under the store mutex; the copy replaces the live
// state only when the unit succeeds.
type MemoryRepository struct {
	mu   *sync.Mutex
	data *memoryData
	inTx bool
	now  func() time.Time
}

type memoryData struct {
	accounts map[uuid.UUID]domain.Account
	entries  []domain.LedgerEntry
}

func (d *memoryData) clone() *memoryData {
	accounts := make(map[uuid.UUID]domain.Account, len(d.accounts))
	for id, a := range d.accounts {
		accounts[id] = a
	}
	entries := make([]domain.LedgerEntry, len(d.entries))
	copy(entries, d.entries)
	return &memoryData{accounts: accounts, entries: entries}
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu:   &sync.Mutex{},
		data: &memoryData{accounts: make(map[uuid.UUID]domain.Account)},
		now:  time.Now,
	}
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) FindAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	defer r.lock()()
	for _, a := range r.data.accounts {
		if domain.SameName(a.Name, name) {
			found := a
			return &found, nil
		}
	}
	return nil, domain.NotFoundError("account not found")
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	defer r.lock()()
	a, ok := r.data.accounts[id]
	if !ok {
		return nil, domain.NotFoundError("account not found")
	}
	return &a, nil
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	defer r.lock()()
	for _, a := range r.data.accounts {
		if domain.SameName(a.Name, account.Name) {
			return nil, domain.ConflictError("account name is already taken")
		}
	}
	created := *account
	created.Name = domain.NormalizeName(created.Name)
	now := r.now()
	created.CreatedAt = now
	created.UpdatedAt = now
	r.data.accounts[created.ID] = created
	return &created, nil
}

func (r *MemoryRepository) UpdateBalance(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	defer r.lock()()
	a, ok := r.data.accounts[id]
	if !ok {
		return 0, domain.NotFoundError("account not found")
	}
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return 0, domain.ValidationError("amount would overflow the balance")
	}
	if a.Balance+delta < 0 {
		return 0, domain.InsufficientFundsError(a.Balance, -delta)
	}
	a.Balance += delta
	a.UpdatedAt = r.now()
	r.data.accounts[id] = a
	return a.Balance, nil
}

// LockAccounts only checks existence; atomic units already hold the store mutex.
func (r *MemoryRepository) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	defer r.lock()()
	for _, id := range ids {
		if _, ok := r.data.accounts[id]; !ok {
			return domain.NotFoundError("account not found")
		}
	}
	return nil
}

func (r *MemoryRepository) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	defer r.lock()()
	if _, ok := r.data.accounts[entry.AccountID]; !ok {
		return domain.NotFoundError("account not found")
	}
	if entry.CounterpartyID != nil {
		if _, ok := r.data.accounts[*entry.CounterpartyID]; !ok {
			return domain.NotFoundError("counterparty not found")
		}
	}
	r.data.entries = append(r.data.entries, *entry)
	return nil
}

func (r *MemoryRepository) QueryLedger(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.HistoryItem, error) {
	defer r.lock()()

	type indexed struct {
		seq   int
		entry domain.LedgerEntry
	}
	var matched []indexed
	for i, e := range r.data.entries {
		if e.AccountID == accountID {
			matched = append(matched, indexed{seq: i, entry: e})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.After(b.entry.CreatedAt)
		}
		return a.seq > b.seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	items := make([]domain.HistoryItem, 0, len(matched))
	for _, m := range matched {
		item := domain.HistoryItem{LedgerEntry: m.entry}
		if m.entry.CounterpartyID != nil {
			if cp, ok := r.data.accounts[*m.entry.CounterpartyID]; ok {
				name := cp.Name
				item.CounterpartyName = &name
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *MemoryRepository) RunAtomic(ctx context.Context, fn AtomicFunc) error {
	if r.inTx {
		return fn(ctx, r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.data.clone()
	tx := &MemoryRepository{mu: r.mu, data: work, inTx: true, now: r.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.data = work
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
