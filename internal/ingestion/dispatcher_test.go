package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/ingestion"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type stubApplier struct {
	err   error
	calls int
}

func (s *stubApplier) Apply(_ context.Context, cmd event.Command) (event.Outcome, error) {
	s.calls++
	return event.Outcome{IdempotencyKey: cmd.IdempotencyKey(), CommandType: cmd.CommandType()}, s.err
}

type ackRecorder struct {
	acks, naks int
}

func (r *ackRecorder) message(subject string, data []byte) ingestion.RawMessage {
	return ingestion.RawMessage{
		Subject:    subject,
		Data:       data,
		ReceivedAt: time.Now(),
		AckFunc:    func() { r.acks++ },
		NakFunc:    func() { r.naks++ },
	}
}

func tradePayload(t *testing.T) []byte {
	return mustJSON(t, map[string]interface{}{
		"command_id": testCommandID,
		"pool_id":    testPoolID,
		"amount":     uint64(10),
	})
}

func TestDispatcher_AckNak(t *testing.T) {
	tests := []struct {
		name       string
		subject    string
		applyErr   error
		wantAck    int
		wantNak    int
		wantCalls  int
		wantResult string
	}{
		{"applied", "pmm.commands.sell_base", nil, 1, 0, 1, "applied"},
		{"malformed", "pmm.commands.nope", nil, 1, 0, 0, "malformed"},
		{"curve rejection", "pmm.commands.sell_base", fmt.Errorf("sell: %w", state.ErrInsufficientLiquidity), 1, 0, 1, "rejected"},
		{"missing pool", "pmm.commands.sell_base", core.ErrPoolNotFound, 1, 0, 1, "rejected"},
		{"reused key", "pmm.commands.sell_base", fmt.Errorf("dedup: %w", core.ErrDuplicateKey), 1, 0, 1, "rejected"},
		{"store outage", "pmm.commands.sell_base", errors.New("connection refused"), 0, 1, 1, "nak"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			applier := &stubApplier{err: tc.applyErr}
			d := ingestion.NewDispatcher(applier, nil, metrics, zerolog.Nop())
			rec := &ackRecorder{}

			d.Handle(context.Background(), rec.message(tc.subject, tradePayload(t)))

			if rec.acks != tc.wantAck || rec.naks != tc.wantNak {
				t.Errorf("acks/naks: got %d/%d, want %d/%d", rec.acks, rec.naks, tc.wantAck, tc.wantNak)
			}
			if applier.calls != tc.wantCalls {
				t.Errorf("apply calls: got %d, want %d", applier.calls, tc.wantCalls)
			}
			kind := "sell_base"
			if tc.wantResult == "malformed" {
				kind = "unknown"
			}
			if got := promtest.ToFloat64(metrics.IngestMessages.WithLabelValues(kind, tc.wantResult)); got != 1 {
				t.Errorf("ingest counter %s/%s: got %v, want 1", kind, tc.wantResult, got)
			}
		})
	}
}

func TestDispatcher_RunDrainsUntilClosed(t *testing.T) {
	input := make(chan ingestion.RawMessage, 3)
	applier := &stubApplier{}
	d := ingestion.NewDispatcher(applier, input, nil, zerolog.Nop())
	rec := &ackRecorder{}

	for i := 0; i < 3; i++ {
		input <- rec.message("pmm.commands.sell_base", tradePayload(t))
	}
	close(input)

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if applier.calls != 3 || rec.acks != 3 {
		t.Errorf("calls/acks: got %d/%d, want 3/3", applier.calls, rec.acks)
	}
}

func TestDeterministic(t *testing.T) {
	if !ingestion.Deterministic(core.ErrStalePrice) {
		t.Error("stale price should be deterministic")
	}
	if !ingestion.Deterministic(fmt.Errorf("wrap: %w", state.ErrExceededSlippage)) {
		t.Error("wrapped slippage should be deterministic")
	}
	if !ingestion.Deterministic(fmt.Errorf("key reused: %w", core.ErrDuplicateKey)) {
		t.Error("reused idempotency key should be deterministic")
	}
	if ingestion.Deterministic(context.DeadlineExceeded) {
		t.Error("deadline should not be deterministic")
	}
}

// ============================================================================
// Outbound publisher
// ============================================================================

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	out chan published
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.out <- published{subject: subject, data: data}
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher_PublishesOutcome(t *testing.T) {
	pool := uuid.MustParse(testPoolID)
	out := event.Outcome{
		Sequence:       3,
		IdempotencyKey: testCommandID,
		CommandType:    event.CommandTypeSellBase,
		PoolID:         pool,
		BaseAmount:     10,
		QuoteAmount:    989,
		TotalShares:    100,
		Regime:         "BaseSurplus",
	}
	out.StateHash[0] = 0xab

	if got, want := ingestion.OutcomeSubject(out), "pmm.events.sell_base."+testPoolID; got != want {
		t.Errorf("subject: got %s, want %s", got, want)
	}

	input := make(chan event.Outcome, 1)
	stream := &fakeStream{out: make(chan published, 1)}
	pub := ingestion.NewOutboundPublisher(stream, input, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	input <- out
	var msg published
	select {
	case msg = <-stream.out:
	case <-time.After(2 * time.Second):
		t.Fatal("outcome not published")
	}
	cancel()
	<-done

	var decoded map[string]interface{}
	if err := json.Unmarshal(msg.data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["quote_amount"] != float64(989) {
		t.Errorf("quote_amount: got %v, want 989", decoded["quote_amount"])
	}
	hash, _ := decoded["state_hash"].(string)
	if len(hash) != 64 || hash[:2] != "ab" {
		t.Errorf("state_hash: got %q", hash)
	}
}
