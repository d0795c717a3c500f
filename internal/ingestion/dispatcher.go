package ingestion

import (
	"context"
	"errors"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/state"

	"github.com/rs/zerolog"
)

// Applier is the engine surface the dispatcher drives.
type Applier interface {
	Apply(ctx context.Context, cmd event.Command) (event.Outcome, error)
}

// Dispatcher drains raw messages, parses them and applies them one by one.
// Malformed messages and deterministic rejections are acked; anything else
// (store or context errors) is nacked for redelivery.
type Dispatcher struct {
	applier Applier
	input   <-chan RawMessage
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(applier Applier, input <-chan RawMessage, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{applier: applier, input: input, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-d.input:
			if !ok {
				return nil
			}
			d.Handle(ctx, msg)
		}
	}
}

// Handle processes a single message and settles its ack.
func (d *Dispatcher) Handle(ctx context.Context, msg RawMessage) {
	cmd, err := ParseCommand(msg.Subject, msg.Data)
	if err != nil {
		d.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("dropping malformed message")
		d.count("unknown", "malformed")
		ack(msg)
		return
	}
	kind := cmd.CommandType().Subject()

	_, err = d.applier.Apply(ctx, cmd)
	switch {
	case err == nil:
		d.count(kind, "applied")
		ack(msg)
	case Deterministic(err):
		d.count(kind, "rejected")
		ack(msg)
	default:
		d.logger.Error().
			Str("subject", msg.Subject).
			Str("idempotency_key", cmd.IdempotencyKey()).
			Err(err).
			Msg("apply failed, requesting redelivery")
		d.count(kind, "nak")
		if msg.NakFunc != nil {
			msg.NakFunc()
		}
	}
}

// Deterministic reports whether redelivering the same command would fail the
// same way.
func Deterministic(err error) bool {
	if state.Code(err) != state.CodeUnknown {
		return true
	}
	return errors.Is(err, core.ErrPoolNotFound) ||
		errors.Is(err, core.ErrPoolExists) ||
		errors.Is(err, core.ErrStalePrice) ||
		errors.Is(err, core.ErrUnknownCommand) ||
		errors.Is(err, core.ErrDuplicateKey) ||
		errors.Is(err, ErrMalformed)
}

func ack(msg RawMessage) {
	if msg.AckFunc != nil {
		msg.AckFunc()
	}
}

func (d *Dispatcher) count(kind, result string) {
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(kind, result).Inc()
	}
}
