package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/pkg/paystackclient"
)

// walletRepoStub is an in-memory Repository used to exercise the withdrawal
// flow, including the compensation paths. All mutations are mutex-guarded so
// concurrent withdrawal tests observe the same serialization the Postgres
// implementation provides per user.
type walletRepoStub struct {
	store.Repository

	mu           sync.Mutex
	users        map[uuid.UUID]*domain.User
	balances     map[uuid.UUID]int64
	transactions map[uuid.UUID]*domain.Transaction
	recipients   map[string]*domain.Recipient

	createTxErr error
}

func newWalletRepoStub() *walletRepoStub {
	return &walletRepoStub{
		users:        make(map[uuid.UUID]*domain.User),
		balances:     make(map[uuid.UUID]int64),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		recipients:   make(map[string]*domain.Recipient),
	}
}

func (s *walletRepoStub) addUser(balance int64) uuid.UUID {
	id := uuid.New()
	s.users[id] = &domain.User{ID: id, Email: id.String() + "@example.com"}
	s.balances[id] = balance
	return id
}

func (s *walletRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (s *walletRepoStub) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *walletRepoStub) DebitBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return store.ErrInsufficientFunds
	}
	s.balances[userID] -= amount
	return nil
}

func (s *walletRepoStub) CreditBalance(ctx context.Context, userID uuid.UUID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	return nil
}

func (s *walletRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createTxErr != nil {
		return s.createTxErr
	}
	copied := *tx
	s.transactions[tx.ID] = &copied
	return nil
}

func (s *walletRepoStub) AttachTransferReference(ctx context.Context, txID uuid.UUID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txID]
	if !ok || tx.Status != domain.StatusPending {
		return store.ErrTransactionNotFound
	}
	tx.Reference = &reference
	tx.Status = domain.StatusInitiated
	return nil
}

func (s *walletRepoStub) MarkTransactionFailed(ctx context.Context, txID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[txID]
	if !ok || domain.IsTerminalStatus(tx.Status) {
		return false, nil
	}
	tx.Status = domain.StatusFailed
	return true, nil
}

func (s *walletRepoStub) FindRecipient(ctx context.Context, userID uuid.UUID, accountNumber, bankCode string) (*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recipient, ok := s.recipients[userID.String()+accountNumber+bankCode]
	if !ok {
		return nil, store.ErrRecipientNotFound
	}
	return recipient, nil
}

func (s *walletRepoStub) SaveRecipient(ctx context.Context, recipient *domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recipient.UserID.String() + recipient.AccountNumber + recipient.BankCode
	if _, exists := s.recipients[key]; !exists {
		s.recipients[key] = recipient
	}
	return nil
}

// processorStub fakes the Paystack client.
type processorStub struct {
	mu             sync.Mutex
	recipientErr   error
	transferErr    error
	recipientCalls int
	transferCalls  int
	lastReference  string
	lastAmount     int64
}

func (p *processorStub) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recipientCalls++
	if p.recipientErr != nil {
		return "", p.recipientErr
	}
	return "RCP_" + accountNumber, nil
}

func (p *processorStub) InitiateTransfer(ctx context.Context, amount int64, recipientCode, reason, reference string) (*paystackclient.TransferResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferCalls++
	p.lastReference = reference
	p.lastAmount = amount
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	resp := &paystackclient.TransferResponse{}
	resp.Status = true
	resp.Data.Reference = reference
	resp.Data.TransferCode = "TRF_" + reference
	resp.Data.Status = "pending"
	return resp, nil
}

func validRequest(userID uuid.UUID, amount int64) domain.WithdrawalRequest {
	return domain.WithdrawalRequest{
		UserID:        userID,
		Amount:        amount,
		AccountNumber: "0123456789",
		BankCode:      "058",
		Name:          "Ada Obi",
	}
}

func TestWithdraw_RejectsInvalidRequest(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	processor := &processorStub{}
	service := NewService(repo, processor, nil)

	cases := []struct {
		name string
		req  domain.WithdrawalRequest
	}{
		{"zero amount", validRequest(userID, 0)},
		{"negative amount", validRequest(userID, -100)},
		{"missing user", domain.WithdrawalRequest{Amount: 100, AccountNumber: "0123456789", BankCode: "058", Name: "Ada Obi"}},
		{"missing account number", domain.WithdrawalRequest{UserID: userID, Amount: 100, BankCode: "058", Name: "Ada Obi"}},
		{"missing bank code", domain.WithdrawalRequest{UserID: userID, Amount: 100, AccountNumber: "0123456789", Name: "Ada Obi"}},
		{"missing name", domain.WithdrawalRequest{UserID: userID, Amount: 100, AccountNumber: "0123456789", BankCode: "058"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := service.Withdraw(context.Background(), tc.req); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if repo.balances[userID] != 10000 {
		t.Fatalf("expected balance untouched, got %d", repo.balances[userID])
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("expected no transactions created, got %d", len(repo.transactions))
	}
	if processor.recipientCalls != 0 || processor.transferCalls != 0 {
		t.Fatal("expected no processor calls for rejected requests")
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(400)
	processor := &processorStub{}
	service := NewService(repo, processor, nil)

	_, err := service.Withdraw(context.Background(), validRequest(userID, 500))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.balances[userID] != 400 {
		t.Fatalf("expected balance untouched, got %d", repo.balances[userID])
	}
	if len(repo.transactions) != 0 {
		t.Fatal("expected no transaction record for a rejected withdrawal")
	}
	if processor.recipientCalls != 0 || processor.transferCalls != 0 {
		t.Fatal("expected no processor calls before funds are reserved")
	}
}

func TestWithdraw_UnknownUser(t *testing.T) {
	repo := newWalletRepoStub()
	service := NewService(repo, &processorStub{}, nil)

	_, err := service.Withdraw(context.Background(), validRequest(uuid.New(), 500))
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestWithdraw_CompensatesWhenRecipientRegistrationFails(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	processor := &processorStub{recipientErr: errors.New("processor unavailable")}
	service := NewService(repo, processor, nil)

	_, err := service.Withdraw(context.Background(), validRequest(userID, 3000))
	if !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}
	if repo.balances[userID] != 10000 {
		t.Fatalf("expected reserved funds restored, got balance %d", repo.balances[userID])
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected one transaction record, got %d", len(repo.transactions))
	}
	for _, tx := range repo.transactions {
		if tx.Status != domain.StatusFailed {
			t.Fatalf("expected transaction failed, got %q", tx.Status)
		}
	}
	if processor.transferCalls != 0 {
		t.Fatal("expected no transfer initiation after recipient failure")
	}
}

func TestWithdraw_CompensatesWhenTransferInitiationFails(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	processor := &processorStub{transferErr: errors.New("transfer timed out")}
	service := NewService(repo, processor, nil)

	_, err := service.Withdraw(context.Background(), validRequest(userID, 3000))
	if !errors.Is(err, ErrProcessor) {
		t.Fatalf("expected ErrProcessor, got %v", err)
	}
	if repo.balances[userID] != 10000 {
		t.Fatalf("expected reserved funds restored, got balance %d", repo.balances[userID])
	}
	for _, tx := range repo.transactions {
		if tx.Status != domain.StatusFailed {
			t.Fatalf("expected transaction failed, got %q", tx.Status)
		}
	}
}

func TestWithdraw_Success(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	processor := &processorStub{}
	service := NewService(repo, processor, nil)

	tx, err := service.Withdraw(context.Background(), validRequest(userID, 3000))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if tx.Status != domain.StatusInitiated {
		t.Fatalf("expected status initiated, got %q", tx.Status)
	}
	if tx.Reference == nil || *tx.Reference == "" {
		t.Fatal("expected a transfer reference on the returned transaction")
	}
	if repo.balances[userID] != 7000 {
		t.Fatalf("expected balance 7000 after reservation, got %d", repo.balances[userID])
	}
	if processor.lastAmount != 3000 {
		t.Fatalf("expected transfer of 3000, got %d", processor.lastAmount)
	}
	if processor.lastReference != *tx.Reference {
		t.Fatalf("expected initiation reference %q to match ledger, got %q", processor.lastReference, *tx.Reference)
	}

	stored := repo.transactions[tx.ID]
	if stored == nil || stored.Status != domain.StatusInitiated {
		t.Fatal("expected stored transaction to be initiated")
	}
}

func TestWithdraw_ReusesCachedRecipient(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	processor := &processorStub{}
	service := NewService(repo, processor, nil)

	if _, err := service.Withdraw(context.Background(), validRequest(userID, 1000)); err != nil {
		t.Fatalf("first withdrawal failed: %v", err)
	}
	if _, err := service.Withdraw(context.Background(), validRequest(userID, 1000)); err != nil {
		t.Fatalf("second withdrawal failed: %v", err)
	}

	if processor.recipientCalls != 1 {
		t.Fatalf("expected one recipient registration, got %d", processor.recipientCalls)
	}
	if processor.transferCalls != 2 {
		t.Fatalf("expected two transfer initiations, got %d", processor.transferCalls)
	}
}

func TestWithdraw_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(5000)
	processor := &processorStub{}
	service := NewService(repo, processor, nil)

	const workers = 10
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Withdraw(context.Background(), validRequest(userID, 1000))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 5 {
		t.Fatalf("expected exactly 5 successful withdrawals from a 5000 balance, got %d", successes)
	}
	if repo.balances[userID] != 0 {
		t.Fatalf("expected balance drained to 0, got %d", repo.balances[userID])
	}
}

type blockedRateLimiter struct{}

func (blockedRateLimiter) ConsumeWithdrawalSlot(ctx context.Context, subject string) (int, error) {
	return 30, nil
}

type brokenRateLimiter struct{}

func (brokenRateLimiter) ConsumeWithdrawalSlot(ctx context.Context, subject string) (int, error) {
	return 0, fmt.Errorf("redis down")
}

func TestWithdraw_RateLimited(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	service := NewService(repo, &processorStub{}, nil)
	service.SetWithdrawalRateLimiter(blockedRateLimiter{})

	_, err := service.Withdraw(context.Background(), validRequest(userID, 1000))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if repo.balances[userID] != 10000 {
		t.Fatalf("expected balance untouched, got %d", repo.balances[userID])
	}
}

func TestWithdraw_RateLimiterFailsOpen(t *testing.T) {
	repo := newWalletRepoStub()
	userID := repo.addUser(10000)
	service := NewService(repo, &processorStub{}, nil)
	service.SetWithdrawalRateLimiter(brokenRateLimiter{})

	if _, err := service.Withdraw(context.Background(), validRequest(userID, 1000)); err != nil {
		t.Fatalf("expected limiter failure to fail open, got %v", err)
	}
}
