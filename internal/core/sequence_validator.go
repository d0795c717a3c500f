package core

import (
	"fmt"

	"PMMEngine/internal/observability"

	"github.com/google/uuid"
)

// SequenceValidator checks price-feed ordering per pool. The last accepted
// sequence lives on the Pool itself, so the validator carries no state of
// its own beyond metrics and is safe for concurrent use.
type SequenceValidator struct {
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{metrics: metrics}
}

// ValidatePriceSequence accepts got when it is past last. Gaps are tolerated
// and counted; a sequence at or below last is rejected with ErrStalePrice.
// A pool that has never seen a price has last == 0.
func (sv *SequenceValidator) ValidatePriceSequence(poolID uuid.UUID, last, got int64) (gap bool, err error) {
	if got <= last {
		if sv.metrics != nil {
			sv.metrics.PriceStale.WithLabelValues(poolID.String()).Inc()
		}
		return false, fmt.Errorf("pool=%s last=%d got=%d: %w", poolID, last, got, ErrStalePrice)
	}

	if got > last+1 {
		if sv.metrics != nil {
			sv.metrics.PriceSequenceGap.WithLabelValues(poolID.String()).Inc()
		}
		return true, nil
	}
	return false, nil
}
