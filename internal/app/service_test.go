package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/transfa/atm-cli/internal/domain"
	"github.com/transfa/atm-cli/internal/store"
	"github.com/transfa/atm-cli/pkg/rabbitmq"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []domain.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	if ev, ok := body.(domain.LedgerEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *recordingPublisher) Close() {}

// faultyRepo fails ledger inserts of one kind, including inside atomic units.
type faultyRepo struct {
	store.Repository
	failKind domain.EntryKind
}

func (r *faultyRepo) InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Kind == r.failKind {
		return errors.New("disk full")
	}
	return r.Repository.InsertLedgerEntry(ctx, entry)
}

func (r *faultyRepo) RunAtomic(ctx context.Context, fn store.AtomicFunc) error {
	return r.Repository.RunAtomic(ctx, func(ctx context.Context, tx store.Repository) error {
		return fn(ctx, &faultyRepo{Repository: tx, failKind: r.failKind})
	})
}

func newTestService(t *testing.T, repo store.Repository, publisher *recordingPublisher) *Service {
	t.Helper()
	var events rabbitmq.Publisher
	if publisher != nil {
		events = publisher
	}
	svc := NewService(repo, &BcryptHasher{Cost: bcrypt.MinCost}, events, Options{})
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc
}

func mustRegisterAndLogin(t *testing.T, svc *Service, name string) *domain.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Register(ctx, name, "1234"); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	sess, err := svc.Login(ctx, name, "1234")
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	return sess
}

func balanceOf(t *testing.T, repo store.Repository, sess *domain.Session) int64 {
	t.Helper()
	account, err := repo.FindAccountByID(context.Background(), sess.AccountID())
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	return account.Balance
}

func TestService_ScenarioDepositWithdrawTransfer(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	publisher := &recordingPublisher{}
	svc := newTestService(t, repo, publisher)

	a := mustRegisterAndLogin(t, svc, "alice")
	b := mustRegisterAndLogin(t, svc, "bob")

	if _, err := svc.Deposit(ctx, a, 100000); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	account, err := svc.Deposit(ctx, a, 50000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if account.Balance != 150000 {
		t.Fatalf("expected balance 150000 after deposit, got %d", account.Balance)
	}

	plan, err := svc.PrepareWithdrawal(ctx, a, 30000)
	if err != nil {
		t.Fatalf("prepare withdrawal: %v", err)
	}
	account, err = svc.Withdraw(ctx, a, plan)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if account.Balance != 120000 {
		t.Fatalf("expected balance 120000 after withdraw, got %d", account.Balance)
	}

	tplan, err := svc.PrepareTransfer(ctx, a, "bob", 20000)
	if err != nil {
		t.Fatalf("prepare transfer: %v", err)
	}
	account, err = svc.Transfer(ctx, a, tplan)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if account.Balance != 100000 {
		t.Fatalf("expected sender balance 100000, got %d", account.Balance)
	}
	if a.Account.Balance != 100000 {
		t.Fatalf("expected session to be refreshed, got %d", a.Account.Balance)
	}
	if got := balanceOf(t, repo, b); got != 20000 {
		t.Fatalf("expected recipient balance 20000, got %d", got)
	}

	aHistory, err := svc.History(ctx, a, 0)
	if err != nil {
		t.Fatalf("history a: %v", err)
	}
	if len(aHistory) != 4 {
		t.Fatalf("expected 4 entries for alice, got %d", len(aHistory))
	}
	wantKinds := []domain.EntryKind{domain.EntryTransferOut, domain.EntryWithdraw, domain.EntryDeposit, domain.EntryDeposit}
	wantAmounts := []int64{20000, 30000, 50000, 100000}
	for i, item := range aHistory {
		if item.Kind != wantKinds[i] || item.Amount != wantAmounts[i] {
			t.Fatalf("entry %d: expected %s/%d, got %s/%d", i, wantKinds[i], wantAmounts[i], item.Kind, item.Amount)
		}
	}
	out := aHistory[0]
	if out.CounterpartyID == nil || *out.CounterpartyID != b.AccountID() {
		t.Fatalf("expected transfer_out to reference bob, got %v", out.CounterpartyID)
	}
	if out.CounterpartyName == nil || *out.CounterpartyName != "bob" {
		t.Fatalf("expected counterparty name bob, got %v", out.CounterpartyName)
	}
	if out.Description != "Transfer to bob" {
		t.Fatalf("unexpected description %q", out.Description)
	}

	bHistory, err := svc.History(ctx, b, 0)
	if err != nil {
		t.Fatalf("history b: %v", err)
	}
	if len(bHistory) != 1 {
		t.Fatalf("expected 1 entry for bob, got %d", len(bHistory))
	}
	in := bHistory[0]
	if in.Kind != domain.EntryTransferIn || in.Amount != 20000 {
		t.Fatalf("expected transfer_in 20000, got %s/%d", in.Kind, in.Amount)
	}
	if in.CounterpartyID == nil || *in.CounterpartyID != a.AccountID() {
		t.Fatalf("expected transfer_in to reference alice, got %v", in.CounterpartyID)
	}
	if !in.CreatedAt.Equal(out.CreatedAt) {
		t.Fatalf("expected both transfer entries to share a timestamp, got %s and %s", out.CreatedAt, in.CreatedAt)
	}

	wantKeys := []string{"ledger.deposit", "ledger.deposit", "ledger.withdraw", "ledger.transfer"}
	if len(publisher.keys) != len(wantKeys) {
		t.Fatalf("expected %d events, got %v", len(wantKeys), publisher.keys)
	}
	for i, key := range wantKeys {
		if publisher.keys[i] != key {
			t.Fatalf("event %d: expected %s, got %s", i, key, publisher.keys[i])
		}
	}
	last := publisher.events[len(publisher.events)-1]
	if last.Balance != 100000 || last.CounterpartyID == nil || *last.CounterpartyID != b.AccountID() {
		t.Fatalf("unexpected transfer event %+v", last)
	}
}

func TestService_DepositThenWithdrawRestoresBalance(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	svc := newTestService(t, repo, nil)
	sess := mustRegisterAndLogin(t, svc, "carol")

	if _, err := svc.Deposit(ctx, sess, 777); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	for _, amount := range []int64{1, 99, 12345, 9_000_000_000} {
		before := balanceOf(t, repo, sess)
		if _, err := svc.Deposit(ctx, sess, amount); err != nil {
			t.Fatalf("deposit %d: %v", amount, err)
		}
		plan, err := svc.PrepareWithdrawal(ctx, sess, amount)
		if err != nil {
			t.Fatalf("prepare withdrawal %d: %v", amount, err)
		}
		if _, err := svc.Withdraw(ctx, sess, plan); err != nil {
			t.Fatalf("withdraw %d: %v", amount, err)
		}
		if got := balanceOf(t, repo, sess); got != before {
			t.Fatalf("expected balance %d restored, got %d", before, got)
		}
	}
}

func TestService_RejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryRepository(), nil)
	sess := mustRegisterAndLogin(t, svc, "dave")
	mustRegisterAndLogin(t, svc, "erin")

	for _, amount := range []int64{0, -1} {
		if _, err := svc.Deposit(ctx, sess, amount); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("deposit %d: expected validation error, got %v", amount, err)
		}
		if _, err := svc.PrepareWithdrawal(ctx, sess, amount); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("withdraw %d: expected validation error, got %v", amount, err)
		}
		if _, err := svc.PrepareTransfer(ctx, sess, "erin", amount); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("transfer %d: expected validation error, got %v", amount, err)
		}
	}
}

func TestService_WithdrawOverBalanceCreatesNoEntry(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	svc := newTestService(t, repo, nil)
	sess := mustRegisterAndLogin(t, svc, "frank")

	if _, err := svc.Deposit(ctx, sess, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.PrepareWithdrawal(ctx, sess, 1001); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	history, err := svc.History(ctx, sess, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Kind != domain.EntryDeposit {
		t.Fatalf("expected only the deposit entry, got %+v", history)
	}
	if got := balanceOf(t, repo, sess); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
}

func TestService_StaleWithdrawalPlanIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	svc := newTestService(t, repo, nil)
	sess := mustRegisterAndLogin(t, svc, "gina")

	if _, err := svc.Deposit(ctx, sess, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	stale, err := svc.PrepareWithdrawal(ctx, sess, 100)
	if err != nil {
		t.Fatalf("prepare stale: %v", err)
	}
	fresh, err := svc.PrepareWithdrawal(ctx, sess, 60)
	if err != nil {
		t.Fatalf("prepare fresh: %v", err)
	}
	if _, err := svc.Withdraw(ctx, sess, fresh); err != nil {
		t.Fatalf("withdraw fresh: %v", err)
	}

	if _, err := svc.Withdraw(ctx, sess, stale); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds for stale plan, got %v", err)
	}
	if got := balanceOf(t, repo, sess); got != 40 {
		t.Fatalf("expected balance 40, got %d", got)
	}
}

func TestService_PrepareTransferRejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryRepository(), nil)
	sess := mustRegisterAndLogin(t, svc, "henry")
	mustRegisterAndLogin(t, svc, "ivy")
	if _, err := svc.Deposit(ctx, sess, 500); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tests := []struct {
		name      string
		recipient string
		amount    int64
		want      error
	}{
		{name: "self by exact name", recipient: "henry", amount: 10, want: domain.ErrSelfTransfer},
		{name: "self by case and spaces", recipient: "  HENRY ", amount: 10, want: domain.ErrSelfTransfer},
		{name: "unknown recipient", recipient: "nobody", amount: 10, want: domain.ErrNotFound},
		{name: "blank recipient", recipient: "   ", amount: 10, want: domain.ErrValidation},
		{name: "over balance", recipient: "ivy", amount: 501, want: domain.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := svc.PrepareTransfer(ctx, sess, tt.recipient, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got plan=%+v err=%v", tt.want, plan, err)
			}
		})
	}
}

func TestService_FailedTransferLeavesNoPartialState(t *testing.T) {
	for _, failKind := range []domain.EntryKind{domain.EntryTransferOut, domain.EntryTransferIn} {
		t.Run(string(failKind), func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemoryRepository()
			publisher := &recordingPublisher{}
			svc := newTestService(t, &faultyRepo{Repository: mem, failKind: failKind}, publisher)

			a := mustRegisterAndLogin(t, svc, "jack")
			b := mustRegisterAndLogin(t, svc, "kate")
			if _, err := svc.Deposit(ctx, a, 1000); err != nil {
				t.Fatalf("deposit: %v", err)
			}

			plan, err := svc.PrepareTransfer(ctx, a, "kate", 400)
			if err != nil {
				t.Fatalf("prepare transfer: %v", err)
			}
			_, err = svc.Transfer(ctx, a, plan)
			if !errors.Is(err, domain.ErrTransferFailed) {
				t.Fatalf("expected transfer failed, got %v", err)
			}
			if errors.Unwrap(err) == nil {
				t.Fatalf("expected the cause to be wrapped")
			}

			if got := balanceOf(t, mem, a); got != 1000 {
				t.Fatalf("expected sender balance 1000, got %d", got)
			}
			if got := balanceOf(t, mem, b); got != 0 {
				t.Fatalf("expected recipient balance 0, got %d", got)
			}
			aItems, _ := mem.QueryLedger(ctx, a.AccountID(), 10)
			bItems, _ := mem.QueryLedger(ctx, b.AccountID(), 10)
			if len(aItems) != 1 || len(bItems) != 0 {
				t.Fatalf("expected no transfer entries, got %d for sender and %d for recipient", len(aItems), len(bItems))
			}
			for _, key := range publisher.keys {
				if key == "ledger.transfer" {
					t.Fatalf("expected no transfer event after rollback")
				}
			}
		})
	}
}

func TestService_FailedDepositOrWithdrawLeavesNoPartialState(t *testing.T) {
	tests := []struct {
		name     string
		failKind domain.EntryKind
		run      func(t *testing.T, ctx context.Context, svc *Service, sess *domain.Session) error
	}{
		{
			name:     "deposit",
			failKind: domain.EntryDeposit,
			run: func(t *testing.T, ctx context.Context, svc *Service, sess *domain.Session) error {
				_, err := svc.Deposit(ctx, sess, 500)
				return err
			},
		},
		{
			name:     "withdraw",
			failKind: domain.EntryWithdraw,
			run: func(t *testing.T, ctx context.Context, svc *Service, sess *domain.Session) error {
				plan, err := svc.PrepareWithdrawal(ctx, sess, 400)
				if err != nil {
					t.Fatalf("prepare withdrawal: %v", err)
				}
				_, err = svc.Withdraw(ctx, sess, plan)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := store.NewMemoryRepository()
			publisher := &recordingPublisher{}
			seeder := newTestService(t, mem, nil)
			sess := mustRegisterAndLogin(t, seeder, "lena")
			if _, err := seeder.Deposit(ctx, sess, 1000); err != nil {
				t.Fatalf("seed deposit: %v", err)
			}

			svc := newTestService(t, &faultyRepo{Repository: mem, failKind: tt.failKind}, publisher)
			err := tt.run(t, ctx, svc, sess)
			if !errors.Is(err, domain.ErrStorage) {
				t.Fatalf("expected storage error, got %v", err)
			}

			if got := balanceOf(t, mem, sess); got != 1000 {
				t.Fatalf("expected balance 1000 after rollback, got %d", got)
			}
			if sess.Account.Balance != 1000 {
				t.Fatalf("expected session balance 1000, got %d", sess.Account.Balance)
			}
			items, err := mem.QueryLedger(ctx, sess.AccountID(), 10)
			if err != nil {
				t.Fatalf("query ledger: %v", err)
			}
			if len(items) != 1 || items[0].Amount != 1000 {
				t.Fatalf("expected only the seed deposit, got %+v", items)
			}
			if len(publisher.keys) != 0 {
				t.Fatalf("expected no events after rollback, got %v", publisher.keys)
			}
		})
	}
}

func TestService_TransferKeepsCauseDetectable(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	svc := newTestService(t, repo, nil)
	a := mustRegisterAndLogin(t, svc, "leo")
	mustRegisterAndLogin(t, svc, "mia")
	if _, err := svc.Deposit(ctx, a, 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	plan, err := svc.PrepareTransfer(ctx, a, "mia", 300)
	if err != nil {
		t.Fatalf("prepare transfer: %v", err)
	}
	// Drain the balance between prepare and commit.
	wplan, err := svc.PrepareWithdrawal(ctx, a, 200)
	if err != nil {
		t.Fatalf("prepare withdrawal: %v", err)
	}
	if _, err := svc.Withdraw(ctx, a, wplan); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	_, err = svc.Transfer(ctx, a, plan)
	if !errors.Is(err, domain.ErrTransferFailed) || !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected transfer failed wrapping insufficient funds, got %v", err)
	}
	if got := balanceOf(t, repo, a); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
}

func TestService_PlansAreBoundToSession(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, store.NewMemoryRepository(), nil)
	a := mustRegisterAndLogin(t, svc, "nina")
	b := mustRegisterAndLogin(t, svc, "omar")
	if _, err := svc.Deposit(ctx, a, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	plan, err := svc.PrepareWithdrawal(ctx, a, 50)
	if err != nil {
		t.Fatalf("prepare withdrawal: %v", err)
	}
	if _, err := svc.Withdraw(ctx, b, plan); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for foreign plan, got %v", err)
	}
	if _, err := svc.CheckBalance(ctx, &domain.Session{}); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error for empty session, got %v", err)
	}
}

func TestService_PublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	svc := newTestService(t, store.NewMemoryRepository(), publisher)
	sess := mustRegisterAndLogin(t, svc, "paul")

	account, err := svc.Deposit(ctx, sess, 250)
	if err != nil {
		t.Fatalf("expected deposit to succeed despite publish failure, got %v", err)
	}
	if account.Balance != 250 {
		t.Fatalf("expected balance 250, got %d", account.Balance)
	}
}

func TestService_HistoryUsesLimit(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	svc := NewService(repo, &BcryptHasher{Cost: bcrypt.MinCost}, nil, Options{HistoryLimit: 3})
	sess := mustRegisterAndLogin(t, svc, "quinn")

	for i := int64(1); i <= 5; i++ {
		if _, err := svc.Deposit(ctx, sess, i); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	items, err := svc.History(ctx, sess, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected configured limit of 3, got %d", len(items))
	}
	if items[0].Amount != 5 {
		t.Fatalf("expected newest deposit first, got %d", items[0].Amount)
	}

	items, err = svc.History(ctx, sess, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(items))
	}
}
