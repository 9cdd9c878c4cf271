package store

// Schema: the relational surface other tools depend on. text_chunks_v2 is
// the only chunk table; chunks_fts mirrors (file_path, chunk_index, content)
// and is kept in sync by triggers.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS file_metadata (
	file_path     TEXT PRIMARY KEY,
	size          INTEGER NOT NULL,
	mtime         REAL NOT NULL,
	content_hash  TEXT NOT NULL,
	file_type     TEXT NOT NULL,
	discovered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS text_chunks_v2 (
	id             INTEGER PRIMARY KEY,
	file_path      TEXT NOT NULL,
	chunk_index    INTEGER NOT NULL,
	chunk_envelope TEXT NOT NULL,
	chunk_strategy TEXT NOT NULL,
	chunk_size     INTEGER NOT NULL,
	total_chunks   INTEGER NOT NULL,
	file_hash      TEXT NOT NULL,
	file_type      TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	embedding      BLOB,
	UNIQUE(file_path, chunk_index),
	FOREIGN KEY(file_path) REFERENCES file_metadata(file_path) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON text_chunks_v2(file_path);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	file_path UNINDEXED,
	chunk_index UNINDEXED,
	content,
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON text_chunks_v2 BEGIN
	INSERT INTO chunks_fts(file_path, chunk_index, content)
	VALUES (new.file_path, new.chunk_index, json_extract(new.chunk_envelope, '$.content'));
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON text_chunks_v2 BEGIN
	DELETE FROM chunks_fts
	WHERE file_path = old.file_path AND chunk_index = old.chunk_index;
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_au AFTER UPDATE ON text_chunks_v2 BEGIN
	DELETE FROM chunks_fts
	WHERE file_path = old.file_path AND chunk_index = old.chunk_index;
	INSERT INTO chunks_fts(file_path, chunk_index, content)
	VALUES (new.file_path, new.chunk_index, json_extract(new.chunk_envelope, '$.content'));
END;

CREATE TABLE IF NOT EXISTS content_analysis (
	file_path TEXT PRIMARY KEY,
	keywords  TEXT NOT NULL,
	FOREIGN KEY(file_path) REFERENCES file_metadata(file_path) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS processing_stats (
	session_id  TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL,
	discovered  INTEGER NOT NULL,
	processed   INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	interrupted INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (2);
`

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}
