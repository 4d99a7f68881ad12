package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"custody-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// EventStream carries one entry per terminal ledger movement.
	EventStream = "ledger:events"
	// AlertStream carries invariant violations for operators.
	AlertStream = "ledger:alerts"

	defaultStreamMaxLen = 100_000
)

// EventPublisher implements ports.EventPublisher on Redis streams so
// consumers can read with consumer groups and catch up after downtime.
type EventPublisher struct {
	client *goredis.Client
	maxLen int64
	log    zerolog.Logger
}

// NewEventPublisher creates a publisher writing to EventStream and AlertStream.
func NewEventPublisher(client *goredis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		client: client,
		maxLen: defaultStreamMaxLen,
		log:    log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish appends a ledger event.
func (p *EventPublisher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	id, err := p.add(ctx, EventStream, string(event.Type), event)
	if err != nil {
		return fmt.Errorf("publish ledger event: %w", err)
	}

	p.log.Debug().
		Str("stream_id", id).
		Str("type", string(event.Type)).
		Int64("tx_id", event.TransactionID).
		Msg("Published ledger event")
	return nil
}

// Alert appends an invariant alert.
func (p *EventPublisher) Alert(ctx context.Context, alert domain.InvariantAlert) error {
	id, err := p.add(ctx, AlertStream, alert.Operation, alert)
	if err != nil {
		return fmt.Errorf("publish invariant alert: %w", err)
	}

	p.log.Debug().Str("stream_id", id).Str("operation", alert.Operation).Msg("Published invariant alert")
	return nil
}

func (p *EventPublisher) add(ctx context.Context, stream, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	return p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"type":    kind,
			"payload": string(body),
		},
	}).Result()
}
