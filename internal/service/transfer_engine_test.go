package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== InternalTransfer ====================

func TestTransferEngine_InternalTransfer(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice, aw := f.register(t, "alice@example.com")
	bob, bw := f.register(t, "bob@example.com")
	f.fund(t, aw.ID, "SOL", "10")

	rec, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{
		FromUserID: alice.ID,
		ToUserID:   bob.ID,
		Token:      "sol",
		Amount:     dec("3.25"),
		Metadata:   map[string]any{"memo": "lunch"},
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, domain.TxKindInternalTransfer, rec.Kind)
	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	assert.Equal(t, aw.Address, rec.FromAddress)
	assert.Equal(t, bw.Address, rec.ToAddress)
	assert.Equal(t, "SOL", rec.Token)
	assert.Equal(t, "lunch", rec.Metadata["memo"])
	assert.Equal(t, bob.ID, rec.Metadata["to_user_id"])

	f.assertBalance(t, aw.ID, "SOL", "6.75", "0")
	f.assertBalance(t, bw.ID, "SOL", "3.25", "0")
	assert.Equal(t, []domain.LedgerEventType{domain.EventTransferCompleted}, f.publisher.eventTypes())
}

func TestTransferEngine_InternalTransferByAddressCreatesTokenRow(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice, aw := f.register(t, "alice@example.com")
	_, bw := f.register(t, "bob@example.com")
	f.fund(t, aw.ID, "USDC", "100")

	_, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{
		FromUserID: alice.ID,
		ToAddress:  bw.Address,
		Token:      "USDC",
		Amount:     dec("40"),
	})
	require.NoError(t, err)
	f.assertBalance(t, aw.ID, "USDC", "60", "0")
	f.assertBalance(t, bw.ID, "USDC", "40", "0")
}

func TestTransferEngine_InternalTransferRejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice, aw := f.register(t, "alice@example.com")
	bob, bw := f.register(t, "bob@example.com")
	f.fund(t, aw.ID, "SOL", "5")

	tests := []struct {
		name string
		req  ports.InternalTransferRequest
		code string
	}{
		{"to self by user", ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: alice.ID, Token: "SOL", Amount: dec("1")}, apperror.CodeValidation},
		{"to self by address", ports.InternalTransferRequest{FromUserID: alice.ID, ToAddress: aw.Address, Token: "SOL", Amount: dec("1")}, apperror.CodeValidation},
		{"no destination", ports.InternalTransferRequest{FromUserID: alice.ID, Token: "SOL", Amount: dec("1")}, apperror.CodeValidation},
		{"zero amount", ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: bob.ID, Token: "SOL", Amount: dec("0")}, apperror.CodeInvalidAmount},
		{"bad token", ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: bob.ID, Token: "", Amount: dec("1")}, apperror.CodeValidation},
		{"insufficient", ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: bob.ID, Token: "SOL", Amount: dec("5.1")}, apperror.CodeInsufficientFunds},
		{"unknown recipient", ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: 9999, Token: "SOL", Amount: dec("1")}, apperror.CodeNotFound},
		{"unowned address", ports.InternalTransferRequest{FromUserID: alice.ID, ToAddress: externalAddress(t), Token: "SOL", Amount: dec("1")}, apperror.CodeNotFound},
		{"malformed address", ports.InternalTransferRequest{FromUserID: alice.ID, ToAddress: "0xdeadbeef", Token: "SOL", Amount: dec("1")}, apperror.CodeInvalidAddress},
		{"unknown sender", ports.InternalTransferRequest{FromUserID: 9999, ToUserID: bob.ID, Token: "SOL", Amount: dec("1")}, apperror.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.InternalTransfer(ctx, tt.req)
			assertAppError(t, err, tt.code)
		})
	}

	f.assertBalance(t, aw.ID, "SOL", "5", "0")
	f.assertBalance(t, bw.ID, "SOL", "0", "0")
	assert.Zero(t, f.recordCount(t, alice.ID))
	assert.Empty(t, f.publisher.Events())
}

func TestTransferEngine_OppositeTransfersConserveFunds(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice, aw := f.register(t, "alice@example.com")
	bob, bw := f.register(t, "bob@example.com")
	f.fund(t, aw.ID, "SOL", "50")
	f.fund(t, bw.ID, "SOL", "50")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: bob.ID, Token: "SOL", Amount: dec("1.5")})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{FromUserID: bob.ID, ToUserID: alice.ID, Token: "SOL", Amount: dec("0.5")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	f.assertBalance(t, aw.ID, "SOL", "25", "0")
	f.assertBalance(t, bw.ID, "SOL", "75", "0")
}

// ==================== RequestWithdrawal ====================

func TestTransferEngine_RequestWithdrawal(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "wd@example.com")
	f.fund(t, w.ID, "SOL", "10")
	dest := externalAddress(t)

	rec, err := f.engine.RequestWithdrawal(ctx, ports.WithdrawalRequest{
		UserID:    u.ID,
		Token:     "SOL",
		Amount:    dec("4"),
		ToAddress: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, rec.Status)
	assert.Equal(t, domain.TxKindWithdraw, rec.Kind)
	assert.Equal(t, w.Address, rec.FromAddress)
	assert.Equal(t, dest, rec.ToAddress)
	assert.True(t, rec.Fee.IsZero())
	assert.Nil(t, rec.TxHash)

	f.assertBalance(t, w.ID, "SOL", "6", "4")
	assert.Equal(t, []domain.LedgerEventType{domain.EventWithdrawalRequested}, f.publisher.eventTypes())
}

func TestTransferEngine_RequestWithdrawalRejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "wd@example.com")
	f.fund(t, w.ID, "SOL", "1")

	tests := []struct {
		name string
		req  ports.WithdrawalRequest
		code string
	}{
		{"insufficient", ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("2"), ToAddress: externalAddress(t)}, apperror.CodeInsufficientFunds},
		{"own address", ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("1"), ToAddress: w.Address}, apperror.CodeInvalidAddress},
		{"malformed address", ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("1"), ToAddress: "not-base58-0OIl"}, apperror.CodeInvalidAddress},
		{"empty address", ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("1")}, apperror.CodeInvalidAddress},
		{"negative", ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("-1"), ToAddress: externalAddress(t)}, apperror.CodeInvalidAmount},
		{"no wallet", ports.WithdrawalRequest{UserID: 9999, Token: "SOL", Amount: dec("1"), ToAddress: externalAddress(t)}, apperror.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RequestWithdrawal(ctx, tt.req)
			assertAppError(t, err, tt.code)
		})
	}

	f.assertBalance(t, w.ID, "SOL", "1", "0")
	assert.Zero(t, f.recordCount(t, u.ID))
}

func TestTransferEngine_RequestWithdrawalIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "idem@example.com")
	f.fund(t, w.ID, "SOL", "10")

	req := ports.WithdrawalRequest{
		UserID:      u.ID,
		Token:       "SOL",
		Amount:      dec("3"),
		ToAddress:   externalAddress(t),
		ReferenceID: "WD-001",
	}

	first, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.ReferenceID)
	assert.Equal(t, "WD-001", *first.ReferenceID)

	cached, err := f.cache.Get(ctx, domain.BuildWithdrawalIdempotencyKey(u.ID, "WD-001"))
	require.NoError(t, err)
	assert.NotNil(t, cached)

	// Redis fast path
	second, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Database log after the cache is lost
	f.redis.FlushAll()
	third, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.True(t, dec("3").Equal(third.Amount))

	f.assertBalance(t, w.ID, "SOL", "7", "3")
	assert.Equal(t, int64(1), f.recordCount(t, u.ID))

	// A different reference is a new withdrawal
	req.ReferenceID = "WD-002"
	fourth, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)
	f.assertBalance(t, w.ID, "SOL", "4", "6")
}

func TestTransferEngine_RequestWithdrawalRedisDown(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "down@example.com")
	f.fund(t, w.ID, "SOL", "10")
	f.redis.Close()

	req := ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("1"), ToAddress: externalAddress(t), ReferenceID: "R1"}
	first, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)
	second, err := f.engine.RequestWithdrawal(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	f.assertBalance(t, w.ID, "SOL", "9", "1")
}

func TestTransferEngine_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "race@example.com")
	f.fund(t, w.ID, "SOL", "10")
	dest := externalAddress(t)

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RequestWithdrawal(ctx, ports.WithdrawalRequest{UserID: u.ID, Token: "SOL", Amount: dec("6"), ToAddress: dest})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	f.assertBalance(t, w.ID, "SOL", "4", "6")
	assert.Equal(t, int64(1), f.recordCount(t, u.ID))
}

// ==================== CancelWithdrawal ====================

func TestTransferEngine_CancelWithdrawal(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "cancel@example.com")
	other, _ := f.register(t, "other@example.com")
	f.fund(t, w.ID, "SOL", "10")
	rec := f.withdraw(t, u.ID, "4")

	_, err := f.engine.CancelWithdrawal(ctx, other.ID, rec.ID)
	assertAppError(t, err, apperror.CodeNotFound)

	cancelled, err := f.engine.CancelWithdrawal(ctx, u.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, cancelled.Status)
	f.assertBalance(t, w.ID, "SOL", "10", "0")

	_, err = f.engine.CancelWithdrawal(ctx, u.ID, rec.ID)
	assertAppError(t, err, apperror.CodeInvalidTransition)
	f.assertBalance(t, w.ID, "SOL", "10", "0")

	_, err = f.engine.CancelWithdrawal(ctx, u.ID, 9999)
	assertAppError(t, err, apperror.CodeNotFound)

	stored, err := f.txs.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, stored.Status)
	assert.Contains(t, f.publisher.eventTypes(), domain.EventWithdrawalCancelled)
}

func TestTransferEngine_CancelRejectsConfirmingAndTransfers(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "confirming@example.com")
	bob, _ := f.register(t, "bob@example.com")
	f.fund(t, w.ID, "SOL", "10")
	rec := f.withdraw(t, u.ID, "2")

	_, err := f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{TransactionID: rec.ID, ObservedConfirmations: 1, Outcome: ports.OutcomeObserved})
	require.NoError(t, err)

	_, err = f.engine.CancelWithdrawal(ctx, u.ID, rec.ID)
	assertAppError(t, err, apperror.CodeInvalidTransition)
	f.assertBalance(t, w.ID, "SOL", "8", "2")

	transfer, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{FromUserID: u.ID, ToUserID: bob.ID, Token: "SOL", Amount: dec("1")})
	require.NoError(t, err)
	_, err = f.engine.CancelWithdrawal(ctx, u.ID, transfer.ID)
	assertAppError(t, err, apperror.CodeValidation)
}
