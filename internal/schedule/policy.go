package schedule

import (
	"math"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
)

// Policy holds the fixed interval schedule used to decide when an item is
// due for review. Intervals are ascending day offsets from the item's
// creation date.
type Policy struct {
	Intervals []int
	Location  *time.Location
}

// DefaultPolicy returns the stock interval schedule: reviews on days 1, 4,
// 10, 17, 30 and 60 after registration, with day boundaries at Japanese
// midnight.
func DefaultPolicy() *Policy {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	return &Policy{
		Intervals: []int{1, 4, 10, 17, 30, 60},
		Location:  loc,
	}
}

// ElapsedDays returns the calendar-date difference between createdAt and now
// in the policy's timezone. Two timestamps on the same local calendar day
// always yield 0, regardless of time of day; the count ticks over at local
// midnight.
func (p *Policy) ElapsedDays(createdAt, now time.Time) int {
	c := createdAt.In(p.Location)
	n := now.In(p.Location)
	cd := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, p.Location)
	nd := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, p.Location)
	// Rounded, not truncated: a DST transition makes the gap between two
	// midnights 23 or 25 hours, and truncation would miscount the day.
	return int(math.Round(nd.Sub(cd).Hours() / 24))
}

// IsDue reports whether the item lands exactly on one of the configured
// interval offsets today. Note the exact match: an item whose elapsed days
// skip past every interval without hitting one is never due again. Mastered
// items are never due.
func (p *Policy) IsDue(item domain.Item, now time.Time) bool {
	if item.Mastered {
		return false
	}
	days := p.ElapsedDays(item.CreatedAt, now)
	for _, interval := range p.Intervals {
		if days == interval {
			return true
		}
	}
	return false
}

// Stage returns the progress bucket for an item: the largest index i such
// that elapsed days >= Intervals[i-1]. 0 means new, len(Intervals) means the
// item is beyond the final interval. Stage intentionally uses >= where IsDue
// uses ==; they answer different questions and are kept separate.
func (p *Policy) Stage(item domain.Item, now time.Time) int {
	days := p.ElapsedDays(item.CreatedAt, now)
	stage := 0
	for i, interval := range p.Intervals {
		if days >= interval {
			stage = i + 1
		}
	}
	return stage
}

// DueItems filters items down to those due for review right now.
func (p *Policy) DueItems(items []domain.Item, now time.Time) []domain.Item {
	var due []domain.Item
	for _, item := range items {
		if p.IsDue(item, now) {
			due = append(due, item)
		}
	}
	return due
}

// Progress summarizes an owner's standing across the interval schedule.
type Progress struct {
	Total       int
	DueToday    int
	StageCounts []int
}

// ComputeProgress buckets every item into its stage and counts today's due
// set. StageCounts has len(Intervals)+1 entries; the final bucket holds
// items beyond the last interval.
func (p *Policy) ComputeProgress(items []domain.Item, now time.Time) Progress {
	prog := Progress{
		Total:       len(items),
		StageCounts: make([]int, len(p.Intervals)+1),
	}
	for _, item := range items {
		if p.IsDue(item, now) {
			prog.DueToday++
		}
		prog.StageCounts[p.Stage(item, now)]++
	}
	return prog
}
