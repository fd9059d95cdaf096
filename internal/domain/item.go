package domain

import "time"

// Item is a single term/definition pair owned by one user.
type Item struct {
	ID         int64
	OwnerID    string
	Term       string
	Definition string
	CreatedAt  time.Time
	Mastered   bool
}

// ItemStats records the review history of a single item.
// Ease is a continuous difficulty score in [1.3, 3.0]; higher means easier.
type ItemStats struct {
	ItemID   int64
	Attempts int
	Correct  int
	Ease     float64
	LastSeen time.Time
}

// Summary is the result of a finished (or stopped) review session.
type Summary struct {
	Correct   int
	Incorrect int
	Total     int
}
