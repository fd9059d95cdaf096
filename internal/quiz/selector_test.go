package quiz

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/conorfennell/kotoba/internal/schedule"
)

func TestWeight(t *testing.T) {
	t.Run("missing stats default to a fresh item", func(t *testing.T) {
		w := Weight(domain.ItemStats{}, false, 1)
		// 1 + 1*(0*(1-0) + (3 - 2.5)) = 1.5
		if math.Abs(w-1.5) > 1e-9 {
			t.Errorf("Expected weight 1.5 for unseen item at bias 1, but got %f", w)
		}
	})

	t.Run("bias zero flattens everything to 1", func(t *testing.T) {
		st := domain.ItemStats{Attempts: 10, Correct: 2, Ease: 1.3}
		if w := Weight(st, true, 0); w != 1 {
			t.Errorf("Expected weight 1 at bias 0, but got %f", w)
		}
	})

	t.Run("struggled items weigh more", func(t *testing.T) {
		hard := domain.ItemStats{Attempts: 10, Correct: 2, Ease: 1.5}
		easy := domain.ItemStats{Attempts: 10, Correct: 10, Ease: 3.0}
		if Weight(hard, true, 1) <= Weight(easy, true, 1) {
			t.Error("Expected a struggled item to outweigh a mastered-in-practice one")
		}
	})

	t.Run("bias is clamped to [0, 3]", func(t *testing.T) {
		st := domain.ItemStats{Attempts: 4, Correct: 2, Ease: 2.0}
		if Weight(st, true, 5) != Weight(st, true, 3) {
			t.Error("Expected bias above 3 to behave like bias 3")
		}
		if Weight(st, true, -1) != Weight(st, true, 0) {
			t.Error("Expected negative bias to behave like bias 0")
		}
	})
}

func TestSampleWithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	makePool := func(n int) ([]domain.Item, []float64) {
		items := make([]domain.Item, n)
		weights := make([]float64, n)
		for i := range items {
			items[i] = domain.Item{ID: int64(i + 1)}
			weights[i] = 1
		}
		return items, weights
	}

	t.Run("no duplicates and exact count", func(t *testing.T) {
		items, weights := makePool(5)
		for trial := 0; trial < 100; trial++ {
			picked := SampleWithoutReplacement(items, weights, 3, rng)
			if len(picked) != 3 {
				t.Fatalf("Expected 3 items, but got %d", len(picked))
			}
			seen := make(map[int64]bool)
			for _, item := range picked {
				if seen[item.ID] {
					t.Fatalf("Item %d returned twice in one sample", item.ID)
				}
				seen[item.ID] = true
			}
		}
	})

	t.Run("k larger than pool returns whole pool", func(t *testing.T) {
		items, weights := makePool(3)
		picked := SampleWithoutReplacement(items, weights, 10, rng)
		if len(picked) != 3 {
			t.Errorf("Expected all 3 items, but got %d", len(picked))
		}
	})

	t.Run("input slices are not mutated", func(t *testing.T) {
		items, weights := makePool(4)
		SampleWithoutReplacement(items, weights, 4, rng)
		for i, item := range items {
			if item.ID != int64(i+1) {
				t.Fatal("Expected input item slice to be untouched")
			}
		}
	})

	t.Run("uniform weights are roughly fair", func(t *testing.T) {
		items, weights := makePool(4)
		counts := make(map[int64]int)
		const trials = 4000
		for i := 0; i < trials; i++ {
			for _, item := range SampleWithoutReplacement(items, weights, 1, rng) {
				counts[item.ID]++
			}
		}
		for id, n := range counts {
			share := float64(n) / trials
			if share < 0.18 || share > 0.32 {
				t.Errorf("Item %d drawn with share %.3f; expected ~0.25", id, share)
			}
		}
	})

	t.Run("heavy items are drawn more often", func(t *testing.T) {
		items, weights := makePool(2)
		weights[0] = 9
		weights[1] = 1
		heavy := 0
		const trials = 2000
		for i := 0; i < trials; i++ {
			if SampleWithoutReplacement(items, weights, 1, rng)[0].ID == 1 {
				heavy++
			}
		}
		if share := float64(heavy) / trials; share < 0.8 {
			t.Errorf("Expected the 9x item to win ~90%% of draws, but got %.3f", share)
		}
	})
}

func TestSelectPool(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	items := []domain.Item{
		{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5, Mastered: true},
	}

	picked := SelectPool(items, nil, 3, 1, rng)
	if len(picked) != 3 {
		t.Fatalf("Expected 3 items, but got %d", len(picked))
	}
	for _, item := range picked {
		if item.Mastered {
			t.Error("Expected mastered items to be excluded from the pool")
		}
	}
}

func TestDueOrFallback(t *testing.T) {
	policy := &schedule.Policy{
		Intervals: []int{1, 4, 10},
		Location:  time.UTC,
	}
	rng := rand.New(rand.NewSource(7))
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("returns the full due set when anything is due", func(t *testing.T) {
		now := created.AddDate(0, 0, 1)
		items := []domain.Item{
			{ID: 1, CreatedAt: created},
			{ID: 2, CreatedAt: created},
			{ID: 3, CreatedAt: now}, // registered today, not due
		}
		selection, fallback := DueOrFallback(policy, items, now, 5, rng)
		if fallback {
			t.Error("Expected no fallback when items are due")
		}
		if len(selection) != 2 {
			t.Errorf("Expected 2 due items, but got %d", len(selection))
		}
	})

	t.Run("falls back to a uniform sample when nothing is due", func(t *testing.T) {
		now := created.AddDate(0, 0, 2)
		items := []domain.Item{
			{ID: 1, CreatedAt: created},
			{ID: 2, CreatedAt: created},
			{ID: 3, CreatedAt: created},
			{ID: 4, CreatedAt: created, Mastered: true},
		}
		selection, fallback := DueOrFallback(policy, items, now, 2, rng)
		if !fallback {
			t.Error("Expected fallback to be reported")
		}
		if len(selection) != 2 {
			t.Errorf("Expected 2 fallback items, but got %d", len(selection))
		}
		for _, item := range selection {
			if item.Mastered {
				t.Error("Expected mastered items to be excluded from the fallback pool")
			}
		}
	})
}
