package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
)

// fakeOutcomes records tracker and mastery calls; failures can be injected
// to exercise the retry-then-advance path.
type fakeOutcomes struct {
	mu          sync.Mutex
	recorded    []int64
	mastered    []int64
	failRecords int
}

func (f *fakeOutcomes) RecordResult(_ context.Context, itemID int64, correct bool, _ time.Time) (domain.ItemStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecords > 0 {
		f.failRecords--
		return domain.ItemStats{}, errors.New("store unavailable")
	}
	f.recorded = append(f.recorded, itemID)
	return domain.ItemStats{ItemID: itemID}, nil
}

func (f *fakeOutcomes) SetMastered(_ context.Context, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mastered = append(f.mastered, itemID)
	return nil
}

func testQueue(n int) []domain.Item {
	items := make([]domain.Item, n)
	for i := range items {
		items[i] = domain.Item{ID: int64(i + 1), OwnerID: "alice", Term: "term", Definition: "def"}
	}
	return items
}

func newTestSession(t *testing.T, n int) (*Session, *fakeOutcomes) {
	t.Helper()
	out := &fakeOutcomes{}
	s := newSession("alice", testQueue(n), out, out, time.Now)
	return s, out
}

func TestSessionHappyPath(t *testing.T) {
	s, out := newTestSession(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Reveal("alice"); err != nil {
			t.Fatalf("Reveal returned error: %v", err)
		}
		summary, err := s.Mark(ctx, "alice", true)
		if err != nil {
			t.Fatalf("Mark returned error: %v", err)
		}
		if summary != nil {
			t.Fatal("Expected no summary before the queue is exhausted")
		}
	}

	if err := s.Reveal("alice"); err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	summary, err := s.Mark(ctx, "alice", false)
	if err != nil {
		t.Fatalf("Final mark returned error: %v", err)
	}
	if summary == nil {
		t.Fatal("Expected a summary when the last item is marked")
	}
	if summary.Correct != 2 || summary.Incorrect != 1 || summary.Total != 3 {
		t.Errorf("Expected summary 2/1/3, but got %d/%d/%d", summary.Correct, summary.Incorrect, summary.Total)
	}
	if summary.Correct+summary.Incorrect != 3 {
		t.Error("Expected correct+incorrect to equal the queue length")
	}
	if s.State() != Completed {
		t.Error("Expected session to be completed")
	}
	if len(out.recorded) != 3 {
		t.Errorf("Expected 3 recorded outcomes, but got %d", len(out.recorded))
	}
	if len(out.mastered) != 2 {
		t.Errorf("Expected 2 mastered items, but got %d", len(out.mastered))
	}
}

func TestMarkBeforeReveal(t *testing.T) {
	s, out := newTestSession(t, 2)

	summary, err := s.Mark(context.Background(), "alice", true)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, but got %v", err)
	}
	if summary != nil {
		t.Error("Expected no summary from a rejected mark")
	}
	got := s.Summary()
	if got.Correct != 0 || got.Incorrect != 0 {
		t.Errorf("Expected counts unchanged, but got %d/%d", got.Correct, got.Incorrect)
	}
	if len(out.recorded) != 0 {
		t.Error("Expected no outcome recorded for a rejected mark")
	}
}

func TestRetriedMarkIsRejected(t *testing.T) {
	s, out := newTestSession(t, 2)
	ctx := context.Background()

	s.Reveal("alice")
	if _, err := s.Mark(ctx, "alice", true); err != nil {
		t.Fatalf("Mark returned error: %v", err)
	}
	// A redelivered press of the same button must not double-apply.
	if _, err := s.Mark(ctx, "alice", true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for a retried mark, but got %v", err)
	}
	if len(out.recorded) != 1 {
		t.Errorf("Expected exactly one recorded outcome, but got %d", len(out.recorded))
	}
}

func TestRevealIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t, 1)
	if err := s.Reveal("alice"); err != nil {
		t.Fatalf("First reveal returned error: %v", err)
	}
	if err := s.Reveal("alice"); err != nil {
		t.Errorf("Expected repeated reveal to be a no-op, but got %v", err)
	}
}

func TestNonOwnerIsRejected(t *testing.T) {
	s, out := newTestSession(t, 2)
	ctx := context.Background()

	if err := s.Reveal("mallory"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden from reveal, but got %v", err)
	}
	if _, err := s.Mark(ctx, "mallory", true); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden from mark, but got %v", err)
	}
	if _, err := s.Stop("mallory"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden from stop, but got %v", err)
	}
	if _, err := s.CurrentPrompt("mallory"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden from prompt, but got %v", err)
	}
	if s.State() != AwaitingReveal || len(out.recorded) != 0 {
		t.Error("Expected no state change from rejected calls")
	}
}

func TestStopMidway(t *testing.T) {
	s, out := newTestSession(t, 3)
	ctx := context.Background()

	s.Reveal("alice")
	s.Mark(ctx, "alice", true)

	summary, err := s.Stop("alice")
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if summary.Correct != 1 || summary.Incorrect != 0 || summary.Total != 1 {
		t.Errorf("Expected partial summary 1/0/1, but got %d/%d/%d", summary.Correct, summary.Incorrect, summary.Total)
	}
	if s.State() != Completed {
		t.Error("Expected session to be completed after stop")
	}
	// Nothing recorded for the two un-reached items.
	if len(out.recorded) != 1 {
		t.Errorf("Expected 1 recorded outcome, but got %d", len(out.recorded))
	}
}

func TestCurrentPrompt(t *testing.T) {
	s, _ := newTestSession(t, 2)

	prompt, err := s.CurrentPrompt("alice")
	if err != nil {
		t.Fatalf("CurrentPrompt returned error: %v", err)
	}
	if strings.Contains(prompt, "def") {
		t.Errorf("Expected definition hidden before reveal, but got %q", prompt)
	}
	if !strings.Contains(prompt, "(1/2)") {
		t.Errorf("Expected position marker in prompt, but got %q", prompt)
	}

	s.Reveal("alice")
	prompt, _ = s.CurrentPrompt("alice")
	if !strings.Contains(prompt, "def") {
		t.Errorf("Expected definition visible after reveal, but got %q", prompt)
	}
}

func TestTransientFailureStillAdvances(t *testing.T) {
	out := &fakeOutcomes{failRecords: 2} // first attempt and its retry both fail
	s := newSession("alice", testQueue(2), out, out, time.Now)
	ctx := context.Background()

	s.Reveal("alice")
	if _, err := s.Mark(ctx, "alice", true); err != nil {
		t.Fatalf("Expected mark to advance despite store failures, but got %v", err)
	}
	if s.State() != AwaitingReveal {
		t.Error("Expected session to move on to the next item")
	}
	got := s.Summary()
	if got.Correct != 1 {
		t.Errorf("Expected the verdict counted, but got %d", got.Correct)
	}
}

func TestSingleRetryRecovers(t *testing.T) {
	out := &fakeOutcomes{failRecords: 1} // first attempt fails, retry lands
	s := newSession("alice", testQueue(1), out, out, time.Now)

	s.Reveal("alice")
	if _, err := s.Mark(context.Background(), "alice", true); err != nil {
		t.Fatalf("Mark returned error: %v", err)
	}
	if len(out.recorded) != 1 {
		t.Errorf("Expected the retry to record exactly once, but got %d", len(out.recorded))
	}
}
