package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"accantona/internal/core"
	"accantona/internal/store"
	"accantona/internal/store/storetest"

	"github.com/shopspring/decimal"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestConcurrentInsertsKeepOneContributionPerMonth(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := storetest.Seed().Apply(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	b := core.Budget{ID: "b1", WorkspaceID: storetest.WorkspaceID, Type: core.BudgetPlanSpend, Status: core.StatusActive}
	if err := s.InsertBudget(ctx, b); err != nil {
		t.Fatalf("InsertBudget: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertEntry(ctx, core.LedgerEntry{
				WorkspaceID: storetest.WorkspaceID, BudgetID: "b1", Type: core.EntryFund,
				Amount: decimal.NewFromInt(100), Metadata: core.LedgerMetadata{Month: "2025-01"},
			})
			if err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("expected exactly one insert to win, got %d", inserted)
	}
}

func TestRollbackKeepsWritesMadeOutsideTheTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := storetest.Seed().Apply(ctx, s); err != nil {
		t.Fatalf("seed: %v", err)
	}
	account := func(id string) core.Account {
		return core.Account{ID: id, WorkspaceID: storetest.WorkspaceID, Name: id, Currency: "EUR"}
	}

	inTx := make(chan struct{})
	release := make(chan struct{})
	txErr := make(chan error, 1)
	go func() {
		txErr <- s.WithTx(ctx, func(tx store.Store) error {
			if err := tx.CreateAccount(ctx, account("acc-tx")); err != nil {
				return err
			}
			close(inTx)
			<-release
			return errors.New("abort")
		})
	}()
	<-inTx

	outside := make(chan error, 1)
	go func() { outside <- s.CreateAccount(ctx, account("acc-outside")) }()
	select {
	case err := <-outside:
		t.Fatalf("write outside the transaction finished while it was open: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	// reads are not blocked by the open transaction
	if _, err := s.GetWorkspace(ctx, storetest.WorkspaceID); err != nil {
		t.Fatalf("GetWorkspace: %v", err)
	}

	close(release)
	if err := <-txErr; err == nil {
		t.Fatal("WithTx should return the callback error")
	}
	if err := <-outside; err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if _, err := s.GetAccount(ctx, storetest.WorkspaceID, "acc-outside"); err != nil {
		t.Errorf("write outside the transaction was lost: %v", err)
	}
	if _, err := s.GetAccount(ctx, storetest.WorkspaceID, "acc-tx"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled back account still present: %v", err)
	}
}
