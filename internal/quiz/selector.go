package quiz

import (
	"math/rand"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/conorfennell/kotoba/internal/schedule"
)

const (
	defaultEase = 2.5
	maxBias     = 3.0
)

// Weight scores an item for sampling. Items the owner struggles with (many
// failed attempts, low ease) weigh more; bias scales how strongly the
// history matters. At bias 0 every item weighs exactly 1.
func Weight(st domain.ItemStats, found bool, bias float64) float64 {
	if bias < 0 {
		bias = 0
	}
	if bias > maxBias {
		bias = maxBias
	}
	if !found {
		st = domain.ItemStats{Ease: defaultEase}
	}
	accuracy := 0.0
	if st.Attempts > 0 {
		accuracy = float64(st.Correct) / float64(st.Attempts)
	}
	return 1 + bias*(float64(st.Attempts)*(1-accuracy)+(maxBias-st.Ease))
}

// SampleWithoutReplacement draws min(k, len(items)) distinct items, each
// draw proportional to its weight among the remaining candidates. Linear
// scan over cumulative weights; fine for the per-owner pool sizes this
// serves (hundreds, not millions).
func SampleWithoutReplacement(items []domain.Item, weights []float64, k int, rng *rand.Rand) []domain.Item {
	pool := make([]domain.Item, len(items))
	copy(pool, items)
	ws := make([]float64, len(weights))
	copy(ws, weights)

	total := 0.0
	for _, w := range ws {
		total += w
	}

	if k > len(pool) {
		k = len(pool)
	}
	picked := make([]domain.Item, 0, k)
	for len(picked) < k {
		r := rng.Float64() * total
		cum := 0.0
		idx := len(pool) - 1
		for i, w := range ws {
			cum += w
			if cum >= r {
				idx = i
				break
			}
		}
		picked = append(picked, pool[idx])
		total -= ws[idx]
		pool = append(pool[:idx], pool[idx+1:]...)
		ws = append(ws[:idx], ws[idx+1:]...)
	}
	return picked
}

// SelectPool builds a quiz pool for an owner: mastered items are excluded,
// the rest are weighted by their stats and sampled without replacement down
// to count.
func SelectPool(items []domain.Item, statsByID map[int64]domain.ItemStats, count int, bias float64, rng *rand.Rand) []domain.Item {
	var candidates []domain.Item
	var weights []float64
	for _, item := range items {
		if item.Mastered {
			continue
		}
		st, found := statsByID[item.ID]
		candidates = append(candidates, item)
		weights = append(weights, Weight(st, found, bias))
	}
	return SampleWithoutReplacement(candidates, weights, count, rng)
}

// DueOrFallback returns every item due right now. When nothing is due it
// falls back to a uniform sample of fallbackCount non-mastered items and
// reports the fallback so callers can phrase the session differently.
func DueOrFallback(policy *schedule.Policy, items []domain.Item, now time.Time, fallbackCount int, rng *rand.Rand) ([]domain.Item, bool) {
	due := policy.DueItems(items, now)
	if len(due) > 0 {
		return due, false
	}

	var candidates []domain.Item
	for _, item := range items {
		if !item.Mastered {
			candidates = append(candidates, item)
		}
	}
	weights := make([]float64, len(candidates))
	for i := range weights {
		weights[i] = 1
	}
	return SampleWithoutReplacement(candidates, weights, fallbackCount, rng), true
}
