// Package live fans out "this request changed" signals per request id so
// open views can re-read the authoritative record.
package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quoteflow/outbox"
)

// Update says a request changed. It carries no state; subscribers re-read.
type Update struct {
	RequestID string `json:"request_id"`
	Topic     string `json:"topic"`
}

// Channel is the pub/sub channel for one request.
func Channel(requestID string) string {
	return "quote:" + requestID
}

// subscriberBuffer bounds how far a slow viewer can fall behind before
// updates are dropped. A dropped update only delays a re-read.
const subscriberBuffer = 16

type Publisher struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, logger: zerolog.Nop()}
}

func (p *Publisher) WithLogger(l zerolog.Logger) *Publisher {
	p.logger = l
	return p
}

// Handle publishes an update for any outbox event that names a request.
func (p *Publisher) Handle(ctx context.Context, msg outbox.Message) error {
	fields, err := msg.Fields()
	if err != nil {
		return err
	}
	requestID := outbox.String(fields, "request_id")
	if requestID == "" {
		return nil
	}
	return p.Publish(ctx, Update{RequestID: requestID, Topic: msg.Topic})
}

func (p *Publisher) Publish(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("live: marshal update: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(u.RequestID), body).Err(); err != nil {
		return fmt.Errorf("live: publish: %w", err)
	}
	return nil
}

// Watch subscribes to one request. The returned channel closes when ctx is
// done or the subscription fails.
func (p *Publisher) Watch(ctx context.Context, requestID string) (<-chan Update, error) {
	ps := p.client.Subscribe(ctx, Channel(requestID))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("live: subscribe: %w", err)
	}

	out := make(chan Update, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var u Update
				if err := json.Unmarshal([]byte(m.Payload), &u); err != nil {
					p.logger.Warn().Err(err).Str("channel", m.Channel).Msg("malformed live update")
					continue
				}
				select {
				case out <- u:
				default:
					p.logger.Debug().Str("request_id", u.RequestID).Msg("live update dropped for slow viewer")
				}
			}
		}
	}()
	return out, nil
}
