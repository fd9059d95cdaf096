package storage

const schema = `
-- 'items' holds each owner's term/definition pairs. The fingerprint is a
-- normalized hash of the pair used to deduplicate imports.
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    term TEXT NOT NULL,
    definition TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    mastered INTEGER NOT NULL DEFAULT 0,

    UNIQUE(owner_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);

-- 'item_stats' is created lazily on the first recorded review outcome,
-- one row per item.
CREATE TABLE IF NOT EXISTS item_stats (
    item_id INTEGER PRIMARY KEY,
    attempts INTEGER NOT NULL DEFAULT 0,
    correct INTEGER NOT NULL DEFAULT 0,
    ease REAL NOT NULL DEFAULT 2.5,
    last_seen DATETIME,

    FOREIGN KEY(item_id) REFERENCES items(id)
);

-- 'sources' tracks where vocabulary is imported from, either a local
-- directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    owner_id TEXT NOT NULL,
    last_scanned DATETIME
);

-- 'nudge_log' makes the inactivity nudge idempotent per owner per calendar
-- day, surviving process restarts.
CREATE TABLE IF NOT EXISTS nudge_log (
    owner_id TEXT NOT NULL,
    day TEXT NOT NULL,

    PRIMARY KEY(owner_id, day)
);
`
