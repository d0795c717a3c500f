package ingestion_test

import (
	"context"
	"testing"
	"time"

	"PMMEngine/internal/event"
	"PMMEngine/internal/ingestion"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// TestNATS_RoundTrip publishes a command, drives it through the subscriber
// and dispatcher, and reads the outcome back from the events stream.
func TestNATS_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	logger := observability.NewTestLogger(testWriter{t}, "nats")
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), logger)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	rawChan := make(chan ingestion.RawMessage, 8)
	sub := ingestion.NewNATSSubscriber(js, rawChan, logger)
	consumer := "it-" + uuid.NewString()[:8]
	if err := sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      "pmm.commands.>",
		ConsumerName: consumer,
		StreamName:   ingestion.CommandsStream,
	}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	pool := uuid.New()
	cmdID := uuid.New()
	payload := mustJSON(t, map[string]interface{}{
		"command_id": cmdID.String(),
		"pool_id":    pool.String(),
		"amount":     uint64(10),
	})
	if _, err := js.Publish(ctx, "pmm.commands.sell_base."+pool.String(), payload); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	publishChan := make(chan event.Outcome, 1)
	applier := applierFunc(func(_ context.Context, cmd event.Command) (event.Outcome, error) {
		out := event.Outcome{
			Sequence:       1,
			IdempotencyKey: cmd.IdempotencyKey(),
			CommandType:    cmd.CommandType(),
			PoolID:         cmd.Pool(),
		}
		publishChan <- out
		return out, nil
	})
	d := ingestion.NewDispatcher(applier, rawChan, nil, logger)
	go d.Run(ctx)
	go ingestion.NewOutboundPublisher(js, publishChan, logger).Run(ctx)

	events, err := js.OrderedConsumer(ctx, ingestion.EventsStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{"pmm.events.sell_base." + pool.String()},
	})
	if err != nil {
		t.Fatalf("events consumer: %v", err)
	}
	msg, err := events.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("no outcome published: %v", err)
	}
	if got := msg.Headers().Get("Nats-Msg-Id"); got != pool.String()+":1" {
		t.Errorf("msg id: got %q, want %q", got, pool.String()+":1")
	}
}

type applierFunc func(context.Context, event.Command) (event.Outcome, error)

func (f applierFunc) Apply(ctx context.Context, cmd event.Command) (event.Outcome, error) {
	return f(ctx, cmd)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
