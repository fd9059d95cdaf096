package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
)

// State is the review session state machine position.
type State int

const (
	// AwaitingReveal shows the term and waits for the owner to ask for the
	// definition.
	AwaitingReveal State = iota
	// AnswerRevealed shows the definition and waits for a correct/incorrect
	// verdict.
	AnswerRevealed
	// Completed is terminal.
	Completed
)

// ResultRecorder records one review outcome for an item.
type ResultRecorder interface {
	RecordResult(ctx context.Context, itemID int64, correct bool, when time.Time) (domain.ItemStats, error)
}

// MasteryStore flags an item as permanently learned.
type MasteryStore interface {
	SetMastered(ctx context.Context, itemID int64) error
}

// Session steps one owner through a fixed queue of items. All methods are
// safe for concurrent use; calls on the same session are serialized by its
// mutex so a session has exactly one writer at a time.
type Session struct {
	mu           sync.Mutex
	ownerID      string
	queue        []domain.Item
	cursor       int
	revealed     bool
	correct      int
	incorrect    int
	state        State
	createdAt    time.Time
	lastActivity time.Time

	recorder ResultRecorder
	mastery  MasteryStore
	now      func() time.Time
}

func newSession(ownerID string, queue []domain.Item, recorder ResultRecorder, mastery MasteryStore, now func() time.Time) *Session {
	t := now()
	return &Session{
		ownerID:      ownerID,
		queue:        queue,
		state:        AwaitingReveal,
		createdAt:    t,
		lastActivity: t,
		recorder:     recorder,
		mastery:      mastery,
		now:          now,
	}
}

// OwnerID returns the owning principal of this session.
func (s *Session) OwnerID() string { return s.ownerID }

// CurrentPrompt renders the text for the item under the cursor: the term
// alone before reveal, term and definition after.
func (s *Session) CurrentPrompt(actor string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOwner(actor); err != nil {
		return "", err
	}
	if s.state == Completed {
		return "", ErrInvalidState
	}
	item := s.queue[s.cursor]
	if s.revealed {
		return fmt.Sprintf("Q: %s\nA: %s\n(%d/%d)", item.Term, item.Definition, s.cursor+1, len(s.queue)), nil
	}
	return fmt.Sprintf("Q: %s\n(%d/%d)", item.Term, s.cursor+1, len(s.queue)), nil
}

// Reveal uncovers the definition for the current item. Revealing an already
// revealed item is a no-op, so a retried button press cannot fail.
func (s *Session) Reveal(actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOwner(actor); err != nil {
		return err
	}
	if s.state == Completed {
		return ErrInvalidState
	}
	s.revealed = true
	s.state = AnswerRevealed
	s.lastActivity = s.now()
	return nil
}

// Mark records the owner's verdict on the revealed item and advances the
// cursor. Only valid in AnswerRevealed; calling it before Reveal (or
// retrying it after the cursor moved on) returns ErrInvalidState with no
// state change. A correct verdict masters the item, removing it from all
// future due rotations. When the last item is marked the session completes
// and the summary is returned; otherwise the returned summary is nil.
func (s *Session) Mark(ctx context.Context, actor string, correct bool) (*domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOwner(actor); err != nil {
		return nil, err
	}
	if s.state != AnswerRevealed {
		return nil, ErrInvalidState
	}

	item := s.queue[s.cursor]
	s.recordOutcome(ctx, item, correct)

	if correct {
		s.correct++
	} else {
		s.incorrect++
	}
	s.cursor++
	s.revealed = false
	s.lastActivity = s.now()

	if s.cursor == len(s.queue) {
		s.state = Completed
		summary := s.summaryLocked()
		return &summary, nil
	}
	s.state = AwaitingReveal
	return nil, nil
}

// recordOutcome writes the stats update and, on success, the mastered flag.
// A transient store failure is retried once; after that the session still
// advances and the failure is logged for reconciliation, because losing one
// stats row beats wedging the owner's review mid-queue.
func (s *Session) recordOutcome(ctx context.Context, item domain.Item, correct bool) {
	when := s.now()
	if _, err := s.recorder.RecordResult(ctx, item.ID, correct, when); err != nil {
		if _, err = s.recorder.RecordResult(ctx, item.ID, correct, when); err != nil {
			slog.Error("Stats write failed twice, advancing anyway",
				"owner", s.ownerID, "item", item.ID, "error", err)
		}
	}
	if !correct {
		return
	}
	if err := s.mastery.SetMastered(ctx, item.ID); err != nil {
		if err = s.mastery.SetMastered(ctx, item.ID); err != nil {
			slog.Error("Mastered flag write failed twice, advancing anyway",
				"owner", s.ownerID, "item", item.ID, "error", err)
		}
	}
}

// Stop completes the session immediately, discarding the remaining queue.
// The partial summary covers only the items already marked; nothing is
// recorded for the un-reached remainder.
func (s *Session) Stop(actor string) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOwner(actor); err != nil {
		return domain.Summary{}, err
	}
	if s.state == Completed {
		return domain.Summary{}, ErrInvalidState
	}
	s.state = Completed
	s.lastActivity = s.now()
	return s.summaryLocked(), nil
}

// Summary returns the counts accumulated so far. Total is the number of
// items actually marked, so a completed full run satisfies
// Correct+Incorrect == len(queue).
func (s *Session) Summary() domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// State returns the current state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// expireIfIdle completes the session with stop semantics when it has seen no
// activity for longer than timeout. Returns the partial summary and true if
// it expired now.
func (s *Session) expireIfIdle(now time.Time, timeout time.Duration) (domain.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Completed {
		return domain.Summary{}, false
	}
	if now.Sub(s.lastActivity) < timeout {
		return domain.Summary{}, false
	}
	s.state = Completed
	return s.summaryLocked(), true
}

func (s *Session) summaryLocked() domain.Summary {
	return domain.Summary{
		Correct:   s.correct,
		Incorrect: s.incorrect,
		Total:     s.correct + s.incorrect,
	}
}

func (s *Session) checkOwner(actor string) error {
	if actor != s.ownerID {
		return ErrForbidden
	}
	return nil
}
