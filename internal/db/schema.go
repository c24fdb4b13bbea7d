package db

const schema = `
CREATE TABLE IF NOT EXISTS tools (
    name         TEXT PRIMARY KEY,
    label        TEXT NOT NULL DEFAULT '',
    script       TEXT NOT NULL,
    icon         BLOB,
    version      INTEGER NOT NULL DEFAULT 1,
    checksum     TEXT NOT NULL,
    author       TEXT NOT NULL DEFAULT '',
    lifecycle_id TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);

-- Append-only history. Rows are written inside the same transaction as the
-- tools upsert and never mutated afterwards. A deleted tool keeps its
-- revisions; a recreated name starts a new lifecycle_id.
CREATE TABLE IF NOT EXISTS tool_revisions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    name         TEXT NOT NULL,
    lifecycle_id TEXT NOT NULL,
    version      INTEGER NOT NULL,
    label        TEXT NOT NULL DEFAULT '',
    script       TEXT NOT NULL,
    icon         BLOB,
    checksum     TEXT NOT NULL,
    author       TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    UNIQUE(lifecycle_id, version)
);

CREATE INDEX IF NOT EXISTS idx_revisions_name ON tool_revisions(name, version);
`
