package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPublisher_Publish(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	pub := NewEventPublisher(client, zerolog.Nop())
	ctx := context.Background()

	rec := &domain.TransactionRecord{
		ID: 21, UserID: 7, WalletID: 11, Token: "SOL",
		Amount: decimal.RequireFromString("1.5"), Status: domain.TransactionStatusCompleted,
	}
	require.NoError(t, pub.Publish(ctx, domain.NewLedgerEvent(domain.EventWithdrawalCompleted, rec)))

	msgs, err := client.XRange(ctx, EventStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "withdrawal.completed", msgs[0].Values["type"])

	var got domain.LedgerEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.Equal(t, int64(21), got.TransactionID)
	assert.True(t, decimal.RequireFromString("1.5").Equal(got.Amount))
}

func TestEventPublisher_Alert(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	pub := NewEventPublisher(client, zerolog.Nop())
	ctx := context.Background()

	alert := domain.InvariantAlert{
		Operation: "settle",
		WalletID:  11,
		Token:     "SOL",
		Detail:    "locked balance below reserved amount",
		RaisedAt:  time.Now().UTC(),
	}
	require.NoError(t, pub.Alert(ctx, alert))

	n, err := client.XLen(ctx, AlertStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.XLen(ctx, EventStream).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventPublisher_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	pub := NewEventPublisher(client, zerolog.Nop())
	s.Close()

	err := pub.Alert(context.Background(), domain.InvariantAlert{Operation: "release"})
	assert.Error(t, err)
}
