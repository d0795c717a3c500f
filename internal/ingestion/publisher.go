package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"PMMEngine/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied outcomes to NATS for downstream
// consumers. Outcomes arrive after persistence, so a publish failure loses
// nothing: consumers can read pmm.pool_events directly.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan event.Outcome
	logger    zerolog.Logger
}

// wireOutcome adds the hashes that event.Outcome keeps out of its JSON.
type wireOutcome struct {
	event.Outcome
	StateHash string `json:"state_hash"`
	PrevHash  string `json:"prev_hash"`
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan event.Outcome, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().
					Int64("sequence", out.Sequence).
					Str("pool_id", out.PoolID.String()).
					Err(err).
					Msg("outbound publish failed")
			}
		}
	}
}

// OutcomeSubject is pmm.events.<kind>.<pool_id>.
func OutcomeSubject(out event.Outcome) string {
	return fmt.Sprintf("pmm.events.%s.%s", out.CommandType.Subject(), out.PoolID)
}

func (op *OutboundPublisher) publish(ctx context.Context, out event.Outcome) error {
	data, err := json.Marshal(wireOutcome{
		Outcome:   out,
		StateHash: hex.EncodeToString(out.StateHash[:]),
		PrevHash:  hex.EncodeToString(out.PrevHash[:]),
	})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	// Msg-Id lets the stream drop a republished outcome.
	msgID := fmt.Sprintf("%s:%d", out.PoolID, out.Sequence)
	_, err = op.js.Publish(ctx, OutcomeSubject(out), data, jetstream.WithMsgID(msgID))
	return err
}
