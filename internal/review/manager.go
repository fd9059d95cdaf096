package review

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/google/uuid"
)

// Config tunes the session manager. Zero values fall back to defaults.
type Config struct {
	// IdleTimeout completes a session that has seen no activity for this
	// long, with the same partial-summary semantics as an explicit stop.
	IdleTimeout time.Duration
	// RejectActive rejects a new start while the owner has a live session.
	// Off by default: the last start wins and the previous session is
	// discarded without a summary.
	RejectActive bool
	// BatchTTL bounds how long a frozen batch token stays redeemable.
	BatchTTL time.Duration
	// JanitorInterval is how often idle sessions and stale batches are
	// swept out.
	JanitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.BatchTTL <= 0 {
		c.BatchTTL = 24 * time.Hour
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	return c
}

type frozenBatch struct {
	ownerID  string
	items    []domain.Item
	frozenAt time.Time
}

// Manager owns the registry of live sessions, one per owner, and the frozen
// due batches that reminder notifications reference.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	batches  map[string]frozenBatch

	recorder ResultRecorder
	mastery  MasteryStore
	cfg      Config
	now      func() time.Time
}

func NewManager(recorder ResultRecorder, mastery MasteryStore, cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		batches:  make(map[string]frozenBatch),
		recorder: recorder,
		mastery:  mastery,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Start opens a review session for the owner over the given queue. With
// RejectActive set, a live session blocks the new one with
// ErrSessionActive; otherwise it is silently discarded.
func (m *Manager) Start(ownerID string, queue []domain.Item) (*Session, error) {
	if len(queue) == 0 {
		return nil, ErrEmptyQueue
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[ownerID]; ok {
		if existing.State() != Completed {
			if m.cfg.RejectActive {
				return nil, ErrSessionActive
			}
			slog.Info("Discarding previous session, last start wins", "owner", ownerID)
		}
		delete(m.sessions, ownerID)
	}

	s := newSession(ownerID, queue, m.recorder, m.mastery, m.now)
	m.sessions[ownerID] = s
	return s, nil
}

// Get returns the owner's live session, or ErrNotFound when there is none.
func (m *Manager) Get(ownerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State() == Completed {
		delete(m.sessions, ownerID)
		return nil, ErrNotFound
	}
	return s, nil
}

// FreezeBatch stores an exact item batch under an opaque token. The token
// travels inside a notification; redeeming it later starts a session over
// precisely these items, not a recomputed set, so mastery changes between
// delivery and redemption cannot shift the queue.
func (m *Manager) FreezeBatch(ownerID string, items []domain.Item) string {
	token := uuid.NewString()
	snapshot := make([]domain.Item, len(items))
	copy(snapshot, items)
	m.mu.Lock()
	m.batches[token] = frozenBatch{ownerID: ownerID, items: snapshot, frozenAt: m.now()}
	m.mu.Unlock()
	return token
}

// Batch looks a frozen batch up without consuming it. Used by snooze
// redelivery, which re-sends the identical batch later.
func (m *Manager) Batch(token string) (string, []domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[token]
	if !ok {
		return "", nil, ErrNotFound
	}
	return b.ownerID, b.items, nil
}

// Resume redeems a frozen batch token into a live session for its owner.
// The token is consumed only once the session actually starts; a redemption
// rejected by ErrSessionActive leaves the batch intact for a later retry or
// a snooze redelivery.
func (m *Manager) Resume(token string) (*Session, error) {
	m.mu.Lock()
	b, ok := m.batches[token]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s, err := m.Start(b.ownerID, b.items)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.batches, token)
	m.mu.Unlock()
	return s, nil
}

// Run drives timeout-based eviction until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evict()
		}
	}
}

// evict completes idle sessions and drops expired batch tokens.
func (m *Manager) evict() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for owner, s := range m.sessions {
		if summary, expired := s.expireIfIdle(now, m.cfg.IdleTimeout); expired {
			slog.Info("Session timed out",
				"owner", owner, "correct", summary.Correct, "incorrect", summary.Incorrect)
			delete(m.sessions, owner)
		} else if s.State() == Completed {
			delete(m.sessions, owner)
		}
	}
	for token, b := range m.batches {
		if now.Sub(b.frozenAt) > m.cfg.BatchTTL {
			delete(m.batches, token)
		}
	}
}
