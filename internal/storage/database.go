package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// ErrNotFound is returned when a referenced item does not exist.
var ErrNotFound = errors.New("storage: not found")

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A single connection keeps sqlite's locking out of the way and
	// serializes the read-modify-write in WithStats.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertItem inserts a new item and returns its ID.
func (db *DB) InsertItem(ctx context.Context, item domain.Item, fingerprint string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO items (owner_id, term, definition, fingerprint, created_at, mastered)
		VALUES (?, ?, ?, ?, ?, 0)
	`,
		item.OwnerID,
		item.Term,
		item.Definition,
		fingerprint,
		item.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert item %q: %w", item.Term, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for item %q: %w", item.Term, err)
	}
	return id, nil
}

// GetItems retrieves every item belonging to one owner.
func (db *DB) GetItems(ctx context.Context, ownerID string) ([]domain.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, owner_id, term, definition, created_at, mastered
		FROM items WHERE owner_id = ? ORDER BY id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for owner %s: %w", ownerID, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// AllItems retrieves every item across all owners, for the reminder sweep.
func (db *DB) AllItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, owner_id, term, definition, created_at, mastered
		FROM items ORDER BY owner_id, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Term,
			&item.Definition,
			&item.CreatedAt,
			&item.Mastered,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindItemByFingerprint looks an owner's item up by its pair fingerprint.
// Returns nil when no such item exists.
func (db *DB) FindItemByFingerprint(ctx context.Context, ownerID, fingerprint string) (*domain.Item, error) {
	var item domain.Item
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, owner_id, term, definition, created_at, mastered
		FROM items WHERE owner_id = ? AND fingerprint = ?
	`, ownerID, fingerprint)

	err := row.Scan(&item.ID, &item.OwnerID, &item.Term, &item.Definition, &item.CreatedAt, &item.Mastered)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find item by fingerprint for owner %s: %w", ownerID, err)
	}
	return &item, nil
}

// SetMastered permanently flags an item as learned, excluding it from all
// future due computations.
func (db *DB) SetMastered(ctx context.Context, itemID int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE items SET mastered = 1 WHERE id = ?
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to set mastered for item %d: %w", itemID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mastered update for item %d: %w", itemID, err)
	}
	if affected == 0 {
		return fmt.Errorf("set mastered for item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// GetStats retrieves stats for the given item IDs. Items with no recorded
// outcome yet are simply absent from the result.
func (db *DB) GetStats(ctx context.Context, itemIDs []int64) (map[int64]domain.ItemStats, error) {
	statsByID := make(map[int64]domain.ItemStats)
	if len(itemIDs) == 0 {
		return statsByID, nil
	}

	placeholders := strings.Repeat("?,", len(itemIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT item_id, attempts, correct, ease, last_seen
		FROM item_stats WHERE item_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st domain.ItemStats
		var lastSeen sql.NullTime
		if err := rows.Scan(&st.ItemID, &st.Attempts, &st.Correct, &st.Ease, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		st.LastSeen = lastSeen.Time
		statsByID[st.ItemID] = st
	}
	return statsByID, rows.Err()
}

// WithStats applies fn as an atomic read-modify-write of one item's stats.
// The single-connection pool plus the transaction serializes overlapping
// updates to the same item, so neither of two concurrent sessions can lose
// an update.
func (db *DB) WithStats(ctx context.Context, itemID int64, fn func(cur domain.ItemStats, found bool) domain.ItemStats) (domain.ItemStats, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.ItemStats{}, fmt.Errorf("failed to begin stats transaction for item %d: %w", itemID, err)
	}
	defer tx.Rollback()

	var cur domain.ItemStats
	var lastSeen sql.NullTime
	found := true
	row := tx.QueryRowContext(ctx, `
		SELECT item_id, attempts, correct, ease, last_seen
		FROM item_stats WHERE item_id = ?
	`, itemID)
	if err := row.Scan(&cur.ItemID, &cur.Attempts, &cur.Correct, &cur.Ease, &lastSeen); err != nil {
		if err != sql.ErrNoRows {
			return domain.ItemStats{}, fmt.Errorf("failed to read stats for item %d: %w", itemID, err)
		}
		found = false
	}
	cur.LastSeen = lastSeen.Time

	next := fn(cur, found)
	next.ItemID = itemID

	if found {
		_, err = tx.ExecContext(ctx, `
			UPDATE item_stats SET attempts = ?, correct = ?, ease = ?, last_seen = ?
			WHERE item_id = ?
		`, next.Attempts, next.Correct, next.Ease, next.LastSeen, itemID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO item_stats (item_id, attempts, correct, ease, last_seen)
			VALUES (?, ?, ?, ?, ?)
		`, itemID, next.Attempts, next.Correct, next.Ease, next.LastSeen)
	}
	if err != nil {
		return domain.ItemStats{}, fmt.Errorf("failed to write stats for item %d: %w", itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ItemStats{}, fmt.Errorf("failed to commit stats for item %d: %w", itemID, err)
	}
	return next, nil
}

// Source represents a vocabulary source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string
	OwnerID     string
	LastScanned sql.NullTime
}

// InsertSource inserts a new source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType, ownerID string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type, owner_id)
		VALUES (?, ?, ?)
	`, path, sourceType, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// GetAllSources retrieves all stored sources.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, owner_id, last_scanned
		FROM sources
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &s.OwnerID, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources SET last_scanned = ? WHERE id = ?
	`, time.Now(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// NudgeSentToday reports whether an inactivity nudge was already recorded
// for the owner on the given calendar day (YYYY-MM-DD).
func (db *DB) NudgeSentToday(ctx context.Context, ownerID, day string) (bool, error) {
	var one int
	row := db.conn.QueryRowContext(ctx, `
		SELECT 1 FROM nudge_log WHERE owner_id = ? AND day = ?
	`, ownerID, day)
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check nudge log for owner %s: %w", ownerID, err)
	}
	return true, nil
}

// RecordNudge marks the owner as nudged for the given calendar day.
// Recording the same day twice is a no-op.
func (db *DB) RecordNudge(ctx context.Context, ownerID, day string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO nudge_log (owner_id, day) VALUES (?, ?)
	`, ownerID, day)
	if err != nil {
		return fmt.Errorf("failed to record nudge for owner %s: %w", ownerID, err)
	}
	return nil
}
