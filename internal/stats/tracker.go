package stats

import (
	"context"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
)

const (
	baseEase    = 2.5
	minEase     = 1.3
	maxEase     = 3.0
	easeReward  = 0.05
	easePenalty = 0.15
)

// Store is the subset of the item store the tracker needs. WithStats must
// apply fn as an atomic read-modify-write for the given item so that
// overlapping sessions touching the same item cannot lose updates.
type Store interface {
	WithStats(ctx context.Context, itemID int64, fn func(cur domain.ItemStats, found bool) domain.ItemStats) (domain.ItemStats, error)
}

// Tracker maintains per-item attempt, correctness and ease statistics.
type Tracker struct {
	store Store
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// RecordResult applies one review outcome to an item's stats. Ease starts
// from 2.5 on the first recorded outcome, moves +0.05 on a correct answer
// and -0.15 on an incorrect one, and is always clamped to [1.3, 3.0].
func (t *Tracker) RecordResult(ctx context.Context, itemID int64, correct bool, when time.Time) (domain.ItemStats, error) {
	return t.store.WithStats(ctx, itemID, func(cur domain.ItemStats, found bool) domain.ItemStats {
		if !found {
			cur = domain.ItemStats{ItemID: itemID, Ease: baseEase}
		}
		cur.Attempts++
		if correct {
			cur.Correct++
			cur.Ease += easeReward
		} else {
			cur.Ease -= easePenalty
		}
		cur.Ease = clampEase(cur.Ease)
		cur.LastSeen = when
		return cur
	})
}

func clampEase(ease float64) float64 {
	if ease < minEase {
		return minEase
	}
	if ease > maxEase {
		return maxEase
	}
	return ease
}
