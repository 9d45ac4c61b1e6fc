package storage

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

-- One row per confirmed speech onset.
CREATE TABLE IF NOT EXISTS onsets (
    onset_id INTEGER PRIMARY KEY AUTOINCREMENT,
    device TEXT NOT NULL,
    source TEXT NOT NULL,
    frame INTEGER NOT NULL,
    start_frame INTEGER NOT NULL,
    level_db REAL NOT NULL,
    floor_db REAL NOT NULL,
    sensitivity INTEGER NOT NULL,
    onset_gap_ms INTEGER NOT NULL,
    detected_at INTEGER NOT NULL -- unix milliseconds
);

CREATE INDEX IF NOT EXISTS idx_onsets_device ON onsets(device, detected_at);
CREATE INDEX IF NOT EXISTS idx_onsets_detected ON onsets(detected_at);
`
