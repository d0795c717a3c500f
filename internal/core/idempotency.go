package core

import (
	"context"
	"fmt"

	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyChecker implements two-tier deduplication. Tier 1 is an
// in-memory LRU of recorded outcomes; tier 2 is the store, when it can look
// outcomes up.
type IdempotencyChecker struct {
	lru      *lru.Cache[string, event.Outcome]
	dbLookup OutcomeLookup
	metrics  *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbLookup OutcomeLookup, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	cache, err := lru.New[string, event.Outcome](capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:      cache,
		dbLookup: dbLookup,
		metrics:  metrics,
	}, nil
}

func compositeKey(ct event.CommandType, key string) string {
	return fmt.Sprintf("%s:%s", ct.Subject(), key)
}

// Lookup returns the recorded outcome if the command was already applied. A
// key already recorded for a different command type fails with ErrDuplicateKey.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, cmd event.Command) (event.Outcome, bool, error) {
	key := compositeKey(cmd.CommandType(), cmd.IdempotencyKey())
	label := cmd.CommandType().Subject()

	// Tier 1: LRU check (hot path)
	if out, ok := ic.lru.Get(key); ok {
		ic.recordDuplicate(label, "lru")
		return out, true, nil
	}

	// Tier 2: store check (cold path)
	if ic.dbLookup == nil {
		return event.Outcome{}, false, nil
	}
	out, found, err := ic.dbLookup.LookupOutcome(ctx, cmd.IdempotencyKey())
	if err != nil {
		// A failing store lookup must not block processing; the store's own
		// unique key on the idempotency column still rejects a real replay.
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return event.Outcome{}, false, nil
	}
	if !found {
		return event.Outcome{}, false, nil
	}
	if out.CommandType != cmd.CommandType() {
		return event.Outcome{}, false, fmt.Errorf("key %q recorded for %s, got %s: %w",
			cmd.IdempotencyKey(), out.CommandType.Subject(), label, ErrDuplicateKey)
	}
	ic.recordDuplicate(label, "store")
	ic.lru.Add(key, *out)
	return *out, true, nil
}

// MarkProcessed records the outcome after a successful persist.
func (ic *IdempotencyChecker) MarkProcessed(out event.Outcome) {
	ic.lru.Add(compositeKey(out.CommandType, out.IdempotencyKey), out)
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads recently applied outcomes, newest last, so a restart does not
// fall through to the store for them.
func (ic *IdempotencyChecker) Warm(outcomes []event.Outcome) {
	for _, out := range outcomes {
		ic.lru.Add(compositeKey(out.CommandType, out.IdempotencyKey), out)
	}
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}
