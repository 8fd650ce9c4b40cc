// Package chunkindex builds and searches the per-product SQLite chunk
// index: a keyword (FTS5) and vector-ready lookup over chunks,
// rebuildable from the canonical store, plus a parallel repo-files corpus
// index over workspace files.
package chunkindex

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`
	pragmaBusyTimeout    = `PRAGMA busy_timeout = 1000;`
	pragmaForeignKeys    = `PRAGMA foreign_keys = ON;`

	schemaDDL = `
CREATE TABLE IF NOT EXISTS items (
	uid TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	state TEXT NOT NULL,
	title TEXT NOT NULL,
	path TEXT NOT NULL,
	mtime REAL NOT NULL,
	content_hash TEXT,
	frontmatter_json TEXT,
	created TEXT,
	updated TEXT,
	priority TEXT,
	parent_uid TEXT,
	owner TEXT,
	area TEXT,
	iteration TEXT,
	tags_json TEXT
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	parent_uid TEXT NOT NULL REFERENCES items(uid),
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	section TEXT,
	embedding BLOB
);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	content,
	content='chunks',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

	insertItemSQL = `
INSERT INTO items (
	uid, id, type, state, title, path, mtime, content_hash, frontmatter_json,
	created, updated, priority, parent_uid, owner, area, iteration, tags_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	insertChunkSQL = `
INSERT INTO chunks (chunk_id, parent_uid, chunk_index, content, section, embedding)
VALUES (?, ?, ?, ?, ?, ?);`

	upsertMetaSQL = `INSERT OR REPLACE INTO schema_meta(key, value) VALUES (?, ?);`

	searchFTSSQL = `
SELECT
	i.id, i.path, c.chunk_id, c.parent_uid, c.section, c.content,
	bm25(chunks_fts) AS bm25_score
FROM chunks_fts
JOIN chunks c ON c.rowid = chunks_fts.rowid
JOIN items i ON i.uid = c.parent_uid
WHERE chunks_fts MATCH ?
ORDER BY bm25_score ASC
LIMIT ?;`

	selectUnembeddedChunksSQL = `SELECT chunk_id, content FROM chunks WHERE embedding IS NULL;`

	updateChunkEmbeddingSQL = `UPDATE chunks SET embedding = ? WHERE chunk_id = ?;`
)
