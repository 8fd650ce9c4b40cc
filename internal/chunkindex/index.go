package chunkindex

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kano-ai/backlog/internal/canonical"
	"github.com/kano-ai/backlog/internal/chunking"
	"github.com/kano-ai/backlog/internal/kanoerr"
	"github.com/kano-ai/backlog/internal/tokenizer"
)

// Index owns one product's chunk index database.
type Index struct {
	db     *sql.DB
	DBPath string
}

// Open opens (without creating the schema) the SQLite database at dbPath.
func Open(ctx context.Context, dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("chunkindex: opening %s: %w", dbPath, err)
	}
	if _, err := db.ExecContext(ctx, pragmaJournalModeWAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunkindex: journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, pragmaBusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunkindex: busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, pragmaForeignKeys); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunkindex: foreign keys: %w", err)
	}
	return &Index{db: db, DBPath: dbPath}, nil
}

// Close releases the underlying database handle.
func (ix *Index) Close() error { return ix.db.Close() }

// BuildResult summarizes one Build/Refresh invocation.
type BuildResult struct {
	ItemsIndexed  int
	ChunksIndexed int
}

// BuildOptions parameterizes Build/Refresh.
type BuildOptions struct {
	Chunking         chunking.Options
	Tokenizer        tokenizer.Adapter
	TokenizerModel   string
	TokenizerAdapter string
	CorpusType       string // "backlog" (default) or "repo"
	Force            bool
}

// Build scans the canonical store and produces the full items/chunks/FTS
// index in a single transaction. If dbPath already exists and !opts.Force,
// it fails with ErrIndexExists.
func Build(ctx context.Context, dbPath string, store *canonical.Store, opts BuildOptions) (BuildResult, error) {
	if _, err := os.Stat(dbPath); err == nil {
		if !opts.Force {
			return BuildResult{}, fmt.Errorf("%w: %s", kanoerr.ErrIndexExists, dbPath)
		}
		if err := os.Remove(dbPath); err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: removing existing db: %w", err)
		}
	}

	ix, err := Open(ctx, dbPath)
	if err != nil {
		return BuildResult{}, err
	}
	defer ix.Close()

	if _, err := ix.db.ExecContext(ctx, schemaDDL); err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: creating schema: %w", err)
	}

	paths, err := store.List(nil)
	if err != nil {
		return BuildResult{}, err
	}

	corpusType := opts.CorpusType
	if corpusType == "" {
		corpusType = "backlog"
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"chunking_version":        opts.Chunking.Version,
		"chunking_target_tokens":  fmt.Sprint(opts.Chunking.TargetTokens),
		"chunking_max_tokens":     fmt.Sprint(opts.Chunking.MaxTokens),
		"chunking_overlap_tokens": fmt.Sprint(opts.Chunking.OverlapTokens),
		"tokenizer_adapter":       opts.TokenizerAdapter,
		"tokenizer_model":         opts.TokenizerModel,
		"corpus_type":             corpusType,
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, upsertMetaSQL, k, v); err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: writing schema_meta: %w", err)
		}
	}

	result := BuildResult{}
	for _, path := range paths {
		item, err := canonical.Read(path)
		if err != nil {
			return BuildResult{}, err
		}

		frontmatterJSON, err := json.Marshal(item.Frontmatter)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: marshaling frontmatter: %w", err)
		}
		tagsJSON, err := json.Marshal(item.Tags)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: marshaling tags: %w", err)
		}

		info, statErr := os.Stat(path)
		var mtime float64
		if statErr == nil {
			mtime = float64(info.ModTime().Unix())
		}

		if _, err := tx.ExecContext(ctx, insertItemSQL,
			item.UID, item.ID, string(item.Type), string(item.State), item.Title, path, mtime,
			contentHash(item), string(frontmatterJSON), item.Created, item.Updated, item.Priority,
			item.Parent, item.Owner, item.Area, item.Iteration, string(tagsJSON),
		); err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: inserting item %s: %w", item.UID, err)
		}
		result.ItemsIndexed++

		content := bodyText(item)
		if content == "" {
			continue
		}

		chunks, err := chunking.ChunkTextWithTokenizer(item.UID, content, opts.Chunking, opts.Tokenizer)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: chunking item %s: %w", item.UID, err)
		}

		for i, c := range chunks {
			trimmed := strings.TrimSpace(c.Text)
			if trimmed == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertChunkSQL, c.ChunkID, item.UID, i, trimmed, "content", nil); err != nil {
				return BuildResult{}, fmt.Errorf("chunkindex: inserting chunk %s: %w", c.ChunkID, err)
			}
			result.ChunksIndexed++
		}
	}

	if err := tx.Commit(); err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: commit: %w", err)
	}
	return result, nil
}

// Refresh rebuilds the index in full; incremental refresh keyed by
// (path, mtime, content_hash) is left to a later schema revision.
func Refresh(ctx context.Context, dbPath string, store *canonical.Store, opts BuildOptions) (BuildResult, error) {
	opts.Force = true
	return Build(ctx, dbPath, store, opts)
}

// SearchRow is one ranked search result.
type SearchRow struct {
	ItemID    string
	ItemPath  string
	ChunkID   string
	ParentUID string
	Section   string
	Content   string
	Score     float64
}

// SearchKeyword runs an FTS5 BM25 keyword search, returning results ranked
// highest-score-first (the raw BM25 value, which is lower-is-better, is
// negated here).
func (ix *Index) SearchKeyword(ctx context.Context, query string, limit int) ([]SearchRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := ix.db.QueryContext(ctx, searchFTSSQL, query, limit)
	if err != nil {
		return nil, fmt.Errorf("chunkindex: keyword search: %w", err)
	}
	defer rows.Close()

	var out []SearchRow
	for rows.Next() {
		var r SearchRow
		var bm25 sql.NullFloat64
		if err := rows.Scan(&r.ItemID, &r.ItemPath, &r.ChunkID, &r.ParentUID, &r.Section, &r.Content, &bm25); err != nil {
			return nil, fmt.Errorf("chunkindex: scanning search row: %w", err)
		}
		if bm25.Valid {
			r.Score = -bm25.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchHybrid takes the top fetchN FTS candidates, embeds the query with
// embedder, and re-ranks by cosine similarity against any chunk with a
// populated embedding. The embedding column is populated lazily, so chunks
// without one are excluded from the vector-ranked result rather than mixed
// in at an incomparable raw FTS score.
func (ix *Index) SearchHybrid(ctx context.Context, query string, limit, fetchN int, embedder EmbeddingAdapter) ([]SearchRow, error) {
	candidates, err := ix.SearchKeyword(ctx, query, fetchN)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 || embedder == nil {
		return candidates, nil
	}

	queryVecs, err := embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(queryVecs) == 0 {
		return candidates, nil
	}
	queryVec := queryVecs[0].Vector

	type scored struct {
		row   SearchRow
		score float64
	}
	var withVectors []scored
	for _, c := range candidates {
		var blob []byte
		row := ix.db.QueryRowContext(ctx, `SELECT embedding FROM chunks WHERE chunk_id = ?`, c.ChunkID)
		if err := row.Scan(&blob); err != nil || len(blob) == 0 {
			continue
		}
		sim, err := cosineSimilarity(queryVec, decodeVector(blob))
		if err != nil {
			continue
		}
		withVectors = append(withVectors, scored{row: c, score: 0.5*c.Score + 0.5*sim})
	}

	sort.SliceStable(withVectors, func(i, j int) bool { return withVectors[i].score > withVectors[j].score })

	out := make([]SearchRow, 0, len(withVectors))
	for _, s := range withVectors {
		r := s.row
		r.Score = s.score
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func contentHash(item *canonical.Item) string {
	sum := sha256.Sum256([]byte(bodyText(item)))
	return hex.EncodeToString(sum[:])
}

func bodyText(item *canonical.Item) string {
	return item.Context + "\n\n" + item.Goal + "\n\n" + item.NonGoals + "\n\n" +
		item.Approach + "\n\n" + item.Alternatives + "\n\n" + item.AcceptanceCriteria + "\n\n" + item.Risks
}

