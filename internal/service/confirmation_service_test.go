package service

import (
	"context"
	"testing"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmation(id int64, outcome ports.ConfirmationOutcome, count int) ports.ConfirmationEvent {
	return ports.ConfirmationEvent{TransactionID: id, Outcome: outcome, ObservedConfirmations: count}
}

func TestConfirmationService_Lifecycle(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "life@example.com")
	f.fund(t, w.ID, "SOL", "10")
	wd := f.withdraw(t, u.ID, "4")

	rec, err := f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{
		TransactionID:         wd.ID,
		Outcome:               ports.OutcomeObserved,
		ObservedConfirmations: 0,
		TxHash:                "5hashAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusConfirming, rec.Status)
	require.NotNil(t, rec.TxHash)
	assert.Equal(t, "5hashAAA", *rec.TxHash)

	// Below the threshold a CONFIRMED outcome only advances the count.
	rec, err = f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeConfirmed, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusConfirming, rec.Status)
	assert.Equal(t, 2, rec.ConfirmationCount)
	f.assertBalance(t, w.ID, "SOL", "6", "4")

	// Counts never move backwards.
	rec, err = f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeObserved, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConfirmationCount)

	rec, err = f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeConfirmed, testMinConfirmations))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	f.assertBalance(t, w.ID, "SOL", "6", "0")

	stored, err := f.txs.GetByID(ctx, wd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, stored.Status)
	assert.Equal(t, testMinConfirmations, stored.ConfirmationCount)
	require.NotNil(t, stored.TxHash)
	assert.Equal(t, "5hashAAA", *stored.TxHash)

	assert.Equal(t, []domain.LedgerEventType{
		domain.EventWithdrawalRequested,
		domain.EventWithdrawalCompleted,
	}, f.publisher.eventTypes())
}

func TestConfirmationService_DirectConfirmFromPending(t *testing.T) {
	f := newLedgerFixture(t)
	u, w := f.register(t, "direct@example.com")
	f.fund(t, w.ID, "SOL", "3")
	wd := f.withdraw(t, u.ID, "3")

	rec, err := f.confirm.HandleConfirmation(context.Background(), confirmation(wd.ID, ports.OutcomeConfirmed, 32))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	f.assertBalance(t, w.ID, "SOL", "0", "0")
}

func TestConfirmationService_FailureReleasesReservation(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "fail@example.com")
	f.fund(t, w.ID, "SOL", "10")
	wd := f.withdraw(t, u.ID, "4")

	_, err := f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeObserved, 1))
	require.NoError(t, err)

	rec, err := f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{
		TransactionID: wd.ID,
		Outcome:       ports.OutcomeFailed,
		ErrorDetail:   "blockhash expired",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorDetail)
	assert.Equal(t, "blockhash expired", *rec.ErrorDetail)
	f.assertBalance(t, w.ID, "SOL", "10", "0")
	assert.Contains(t, f.publisher.eventTypes(), domain.EventWithdrawalFailed)
}

func TestConfirmationService_FailureWithoutDetail(t *testing.T) {
	f := newLedgerFixture(t)
	u, w := f.register(t, "nodetail@example.com")
	f.fund(t, w.ID, "SOL", "1")
	wd := f.withdraw(t, u.ID, "1")

	rec, err := f.confirm.HandleConfirmation(context.Background(), confirmation(wd.ID, ports.OutcomeFailed, 0))
	require.NoError(t, err)
	require.NotNil(t, rec.ErrorDetail)
	assert.Equal(t, defaultFailureDetail, *rec.ErrorDetail)
}

func TestConfirmationService_RedeliveryIsNoOp(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "redeliver@example.com")
	f.fund(t, w.ID, "SOL", "10")
	wd := f.withdraw(t, u.ID, "4")

	_, err := f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeConfirmed, 5))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rec, err := f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeConfirmed, 6+i))
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	}

	// A late sighting after completion is ignored too.
	_, err = f.confirm.HandleConfirmation(ctx, confirmation(wd.ID, ports.OutcomeObserved, 1))
	require.NoError(t, err)

	f.assertBalance(t, w.ID, "SOL", "6", "0")
	assert.Empty(t, f.publisher.Alerts())
	assert.Equal(t, []domain.LedgerEventType{
		domain.EventWithdrawalRequested,
		domain.EventWithdrawalCompleted,
	}, f.publisher.eventTypes())
}

func TestConfirmationService_ContradictionRaisesAlert(t *testing.T) {
	tests := []struct {
		name    string
		settle  func(t *testing.T, f *ledgerFixture, rec *domain.TransactionRecord)
		outcome ports.ConfirmationOutcome
		count   int
		locked  string
	}{
		{
			name: "failed after completed",
			settle: func(t *testing.T, f *ledgerFixture, rec *domain.TransactionRecord) {
				_, err := f.confirm.HandleConfirmation(context.Background(), confirmation(rec.ID, ports.OutcomeConfirmed, testMinConfirmations))
				require.NoError(t, err)
			},
			outcome: ports.OutcomeFailed,
			locked:  "0",
		},
		{
			name: "completed after failed",
			settle: func(t *testing.T, f *ledgerFixture, rec *domain.TransactionRecord) {
				_, err := f.confirm.HandleConfirmation(context.Background(), confirmation(rec.ID, ports.OutcomeFailed, 0))
				require.NoError(t, err)
			},
			outcome: ports.OutcomeConfirmed,
			count:   testMinConfirmations,
			locked:  "0",
		},
		{
			name: "completed after cancelled",
			settle: func(t *testing.T, f *ledgerFixture, rec *domain.TransactionRecord) {
				_, err := f.engine.CancelWithdrawal(context.Background(), rec.UserID, rec.ID)
				require.NoError(t, err)
			},
			outcome: ports.OutcomeConfirmed,
			count:   testMinConfirmations,
			locked:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			u, w := f.register(t, "contra@example.com")
			f.fund(t, w.ID, "SOL", "10")
			wd := f.withdraw(t, u.ID, "4")
			tt.settle(t, f, wd)
			before := f.balance(t, w.ID, "SOL")

			_, err := f.confirm.HandleConfirmation(context.Background(), confirmation(wd.ID, tt.outcome, tt.count))
			assertAppError(t, err, apperror.CodeInvariantViolation)

			f.assertBalance(t, w.ID, "SOL", before.Available.String(), tt.locked)
			alerts := f.publisher.Alerts()
			require.Len(t, alerts, 1)
			assert.Equal(t, "confirmation", alerts[0].Operation)
			assert.Equal(t, wd.ID, alerts[0].TransactionID)
		})
	}
}

func TestConfirmationService_Rejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	alice, aw := f.register(t, "alice@example.com")
	bob, _ := f.register(t, "bob@example.com")
	f.fund(t, aw.ID, "SOL", "10")
	transfer, err := f.engine.InternalTransfer(ctx, ports.InternalTransferRequest{FromUserID: alice.ID, ToUserID: bob.ID, Token: "SOL", Amount: dec("1")})
	require.NoError(t, err)
	wd := f.withdraw(t, alice.ID, "1")

	tests := []struct {
		name  string
		event ports.ConfirmationEvent
		code  string
	}{
		{"missing id", confirmation(0, ports.OutcomeObserved, 1), apperror.CodeValidation},
		{"negative count", confirmation(wd.ID, ports.OutcomeObserved, -1), apperror.CodeValidation},
		{"unknown outcome", confirmation(wd.ID, "DROPPED", 1), apperror.CodeValidation},
		{"unknown transaction", confirmation(9999, ports.OutcomeObserved, 1), apperror.CodeNotFound},
		{"not a withdrawal", confirmation(transfer.ID, ports.OutcomeConfirmed, 5), apperror.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.confirm.HandleConfirmation(ctx, tt.event)
			assertAppError(t, err, tt.code)
		})
	}

	f.assertBalance(t, aw.ID, "SOL", "8", "1")
	stored, err := f.txs.GetByID(ctx, wd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, stored.Status)
}

func TestConfirmationService_HashAlreadyUsed(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "hash@example.com")
	f.fund(t, w.ID, "SOL", "10")
	first := f.withdraw(t, u.ID, "1")
	second := f.withdraw(t, u.ID, "1")

	_, err := f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{TransactionID: first.ID, Outcome: ports.OutcomeObserved, TxHash: "dup"})
	require.NoError(t, err)

	_, err = f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{TransactionID: second.ID, Outcome: ports.OutcomeObserved, TxHash: "dup"})
	assertAppError(t, err, apperror.CodeValidation)

	stored, err := f.txs.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, stored.Status)
}

// ==================== RecordDeposit ====================

func TestConfirmationService_RecordDeposit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "dep@example.com")
	sender := externalAddress(t)

	event := ports.DepositEvent{
		ToAddress:   w.Address,
		FromAddress: sender,
		Token:       "usdc",
		Amount:      dec("12.5"),
		TxHash:      "depositHash1",
		Slot:        123456,
	}
	rec, err := f.confirm.RecordDeposit(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, domain.TxKindDeposit, rec.Kind)
	assert.Equal(t, domain.TransactionStatusCompleted, rec.Status)
	assert.Equal(t, u.ID, rec.UserID)
	assert.Equal(t, sender, rec.FromAddress)
	assert.Equal(t, "USDC", rec.Token)
	assert.Equal(t, testMinConfirmations, rec.ConfirmationCount)
	f.assertBalance(t, w.ID, "USDC", "12.5", "0")

	again, err := f.confirm.RecordDeposit(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	f.assertBalance(t, w.ID, "USDC", "12.5", "0")
	assert.Equal(t, int64(1), f.recordCount(t, u.ID))
	assert.Equal(t, []domain.LedgerEventType{domain.EventDepositCredited}, f.publisher.eventTypes())
}

func TestConfirmationService_RecordDepositRejections(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	u, w := f.register(t, "depfail@example.com")
	f.fund(t, w.ID, "SOL", "5")
	wd := f.withdraw(t, u.ID, "1")
	_, err := f.confirm.HandleConfirmation(ctx, ports.ConfirmationEvent{TransactionID: wd.ID, Outcome: ports.OutcomeObserved, TxHash: "withdrawHash"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		event ports.DepositEvent
		code  string
	}{
		{"unknown wallet", ports.DepositEvent{ToAddress: externalAddress(t), Token: "SOL", Amount: dec("1"), TxHash: "h1"}, apperror.CodeNotFound},
		{"missing hash", ports.DepositEvent{ToAddress: w.Address, Token: "SOL", Amount: dec("1")}, apperror.CodeValidation},
		{"zero amount", ports.DepositEvent{ToAddress: w.Address, Token: "SOL", Amount: dec("0"), TxHash: "h2"}, apperror.CodeInvalidAmount},
		{"bad token", ports.DepositEvent{ToAddress: w.Address, Token: "S O L", Amount: dec("1"), TxHash: "h3"}, apperror.CodeValidation},
		{"hash of a withdrawal", ports.DepositEvent{ToAddress: w.Address, Token: "SOL", Amount: dec("1"), TxHash: "withdrawHash"}, apperror.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.confirm.RecordDeposit(ctx, tt.event)
			assertAppError(t, err, tt.code)
		})
	}
	f.assertBalance(t, w.ID, "SOL", "4", "1")
}

func TestNewConfirmationService_MinimumOfOne(t *testing.T) {
	svc := NewConfirmationService(nil, nil, nil, nil, nil, 0, newTestLogger())
	assert.Equal(t, 1, svc.minConfirmations)
}
