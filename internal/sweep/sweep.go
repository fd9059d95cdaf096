package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/conorfennell/kotoba/internal/notify"
	"github.com/conorfennell/kotoba/internal/schedule"
)

// ItemSource is the subset of the item store the sweep needs.
type ItemSource interface {
	AllItems(ctx context.Context) ([]domain.Item, error)
	NudgeSentToday(ctx context.Context, ownerID, day string) (bool, error)
	RecordNudge(ctx context.Context, ownerID, day string) error
}

// BatchRegistry freezes due batches so the notification a sweep sends
// references the exact items it computed, and snooze can re-deliver them.
type BatchRegistry interface {
	FreezeBatch(ownerID string, items []domain.Item) string
	Batch(token string) (ownerID string, items []domain.Item, err error)
}

// Config tunes the sweeper. Times are local wall-clock "HH:MM" strings in
// the interval policy's timezone.
type Config struct {
	ReminderAt  string        // default "21:00"
	NudgeAt     string        // default "22:00"
	SnoozeAfter time.Duration // default 1h
	RetryAfter  time.Duration // delay before the one retry of a failed pass, default 10m
}

func (c Config) withDefaults() Config {
	if c.ReminderAt == "" {
		c.ReminderAt = "21:00"
	}
	if c.NudgeAt == "" {
		c.NudgeAt = "22:00"
	}
	if c.SnoozeAfter <= 0 {
		c.SnoozeAfter = time.Hour
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 10 * time.Minute
	}
	return c
}

type clock struct {
	hour   int
	minute int
}

func parseClock(s string) (clock, error) {
	var c clock
	if _, err := fmt.Sscanf(s, "%d:%d", &c.hour, &c.minute); err != nil {
		return c, fmt.Errorf("invalid wall-clock time %q: %w", s, err)
	}
	if c.hour < 0 || c.hour > 23 || c.minute < 0 || c.minute > 59 {
		return c, fmt.Errorf("invalid wall-clock time %q", s)
	}
	return c, nil
}

// Sweeper computes every owner's due batch once a day and delivers
// notifications, plus a later inactivity nudge. Everything is re-derived
// from created_at on each run; no state is scheduled per item, so a restart
// can never drop or double a reminder.
type Sweeper struct {
	store    ItemSource
	notifier notify.Notifier
	batches  BatchRegistry
	policy   *schedule.Policy
	cfg      Config

	reminderAt clock
	nudgeAt    clock
	now        func() time.Time
}

func New(store ItemSource, notifier notify.Notifier, batches BatchRegistry, policy *schedule.Policy, cfg Config) (*Sweeper, error) {
	cfg = cfg.withDefaults()
	reminderAt, err := parseClock(cfg.ReminderAt)
	if err != nil {
		return nil, err
	}
	nudgeAt, err := parseClock(cfg.NudgeAt)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		store:      store,
		notifier:   notifier,
		batches:    batches,
		policy:     policy,
		cfg:        cfg,
		reminderAt: reminderAt,
		nudgeAt:    nudgeAt,
		now:        time.Now,
	}, nil
}

// nextOccurrence returns the next time the given wall clock comes around in
// the policy's timezone, strictly after now.
func (s *Sweeper) nextOccurrence(now time.Time, c clock) time.Time {
	local := now.In(s.policy.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, s.policy.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run fires the due pass and the nudge pass at their fixed times until the
// context is cancelled. A pass that fails outright gets one delayed retry,
// then waits for the next scheduled run.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Reminder sweep started",
		"reminder_at", s.cfg.ReminderAt, "nudge_at", s.cfg.NudgeAt, "tz", s.policy.Location.String())
	for {
		now := s.now()
		nextNudge := s.nextOccurrence(now, s.nudgeAt)
		dueTimer := time.NewTimer(s.nextOccurrence(now, s.reminderAt).Sub(now))
		nudgeTimer := time.NewTimer(nextNudge.Sub(now))

		select {
		case <-ctx.Done():
			dueTimer.Stop()
			nudgeTimer.Stop()
			return
		case <-dueTimer.C:
			s.runWithRetry(ctx, "due", s.RunDuePass)
			s.catchUpNudge(ctx, nextNudge)
		case <-nudgeTimer.C:
			s.runWithRetry(ctx, "nudge", s.RunNudgePass)
		}
		dueTimer.Stop()
		nudgeTimer.Stop()
	}
}

// catchUpNudge runs the nudge pass immediately when a due pass (typically
// its delayed retry) overran the scheduled nudge time. Without this the
// recomputed timer would push that day's nudge to tomorrow.
func (s *Sweeper) catchUpNudge(ctx context.Context, scheduled time.Time) {
	if s.now().Before(scheduled) {
		return
	}
	s.runWithRetry(ctx, "nudge", s.RunNudgePass)
}

func (s *Sweeper) runWithRetry(ctx context.Context, name string, pass func(ctx context.Context, now time.Time) error) {
	if err := pass(ctx, s.now()); err != nil {
		slog.Error("Sweep pass failed, retrying once", "pass", name, "in", s.cfg.RetryAfter, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RetryAfter):
		}
		if err := pass(ctx, s.now()); err != nil {
			slog.Error("Sweep pass retry failed, waiting for next run", "pass", name, "error", err)
		}
	}
}

// RunDuePass groups today's due items per owner, freezes each batch and
// delivers one notification per owner carrying the batch token. A failure
// for one owner is logged and never aborts the others.
func (s *Sweeper) RunDuePass(ctx context.Context, now time.Time) error {
	items, err := s.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("due pass: %w", err)
	}

	batches := make(map[string][]domain.Item)
	for _, item := range items {
		if s.policy.IsDue(item, now) {
			batches[item.OwnerID] = append(batches[item.OwnerID], item)
		}
	}

	// Stable owner order keeps logs and tests deterministic.
	owners := make([]string, 0, len(batches))
	for owner := range batches {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		batch := batches[owner]
		token := s.batches.FreezeBatch(owner, batch)
		if err := s.notifier.Deliver(ctx, owner, dueText(batch), token); err != nil {
			slog.Error("Due notification failed", "owner", owner, "items", len(batch), "error", err)
			continue
		}
		slog.Info("Due batch delivered", "owner", owner, "items", len(batch))
	}
	return nil
}

func dueText(batch []domain.Item) string {
	terms := make([]string, len(batch))
	for i, item := range batch {
		terms[i] = item.Term
	}
	return fmt.Sprintf("%d item(s) due for review today: %s", len(batch), strings.Join(terms, ", "))
}

// RunNudgePass sends at most one nudge per calendar day to each owner who
// has items but registered none today. Idempotence is persisted, so a
// restart between passes cannot double-nudge.
func (s *Sweeper) RunNudgePass(ctx context.Context, now time.Time) error {
	items, err := s.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("nudge pass: %w", err)
	}

	addedToday := make(map[string]bool)
	hasItems := make(map[string]bool)
	for _, item := range items {
		hasItems[item.OwnerID] = true
		if s.policy.ElapsedDays(item.CreatedAt, now) == 0 {
			addedToday[item.OwnerID] = true
		}
	}

	owners := make([]string, 0, len(hasItems))
	for owner := range hasItems {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	day := now.In(s.policy.Location).Format("2006-01-02")
	for _, owner := range owners {
		if addedToday[owner] {
			continue
		}
		sent, err := s.store.NudgeSentToday(ctx, owner, day)
		if err != nil {
			slog.Error("Nudge log check failed", "owner", owner, "error", err)
			continue
		}
		if sent {
			continue
		}
		if err := s.notifier.Deliver(ctx, owner, "No new vocabulary today. Add a word to keep the streak going!", ""); err != nil {
			slog.Error("Nudge notification failed", "owner", owner, "error", err)
			continue
		}
		if err := s.store.RecordNudge(ctx, owner, day); err != nil {
			slog.Error("Nudge record failed", "owner", owner, "error", err)
		}
	}
	return nil
}

// Snooze re-delivers the identical frozen batch after the configured delay.
// The batch is not recomputed; the token stays redeemable.
func (s *Sweeper) Snooze(ctx context.Context, token string) error {
	owner, batch, err := s.batches.Batch(token)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.SnoozeAfter):
		}
		if err := s.notifier.Deliver(ctx, owner, dueText(batch), token); err != nil {
			slog.Error("Snoozed notification failed", "owner", owner, "error", err)
		}
	}()
	return nil
}
