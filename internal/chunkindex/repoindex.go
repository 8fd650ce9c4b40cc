package chunkindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kano-ai/backlog/internal/chunking"
	"github.com/kano-ai/backlog/internal/kanoerr"
	"github.com/kano-ai/backlog/internal/tokenizer"
)

// maxConcurrentFileReads bounds how many repo files are stat'd and read at
// once during a scan, so a large tree doesn't open thousands of file
// descriptors at once.
const maxConcurrentFileReads = 8

// DefaultIncludePatterns are the repo-files corpus's default globs.
var DefaultIncludePatterns = []string{"*.md", "*.py", "*.go", "*.toml", "*.json", "*.txt", "*.yaml", "*.yml"}

// DefaultExcludePatterns are directory/file names skipped unconditionally.
var DefaultExcludePatterns = []string{
	".git", ".cache", ".env", "node_modules", "__pycache__",
	".pytest_cache", ".mypy_cache", ".tox", "venv", ".venv",
	"dist", "build", ".DS_Store",
}

// MaxRepoFileSizeBytes caps individual files indexed by the repo corpus.
const MaxRepoFileSizeBytes = 10 * 1024 * 1024

// RepoBuildOptions parameterizes BuildRepoIndex.
type RepoBuildOptions struct {
	Chunking         chunking.Options
	Tokenizer        tokenizer.Adapter
	TokenizerModel   string
	TokenizerAdapter string
	IncludePatterns  []string
	ExcludePatterns  []string
	Force            bool
}

// BuildRepoIndex scans workspaceRoot for files matching IncludePatterns
// (skipping ExcludePatterns, oversized, or binary files) and builds a
// chunks/chunks_fts index with corpus_type="repo".
func BuildRepoIndex(ctx context.Context, dbPath, workspaceRoot string, opts RepoBuildOptions) (BuildResult, error) {
	if _, err := os.Stat(dbPath); err == nil {
		if !opts.Force {
			return BuildResult{}, fmt.Errorf("%w: %s", kanoerr.ErrIndexExists, dbPath)
		}
		if err := os.Remove(dbPath); err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: removing existing repo db: %w", err)
		}
	}

	include := opts.IncludePatterns
	if len(include) == 0 {
		include = DefaultIncludePatterns
	}
	exclude := opts.ExcludePatterns
	if len(exclude) == 0 {
		exclude = DefaultExcludePatterns
	}

	files, err := scanRepoFiles(workspaceRoot, include, exclude)
	if err != nil {
		return BuildResult{}, err
	}

	reads, err := readRepoFiles(ctx, workspaceRoot, files)
	if err != nil {
		return BuildResult{}, err
	}

	ix, err := Open(ctx, dbPath)
	if err != nil {
		return BuildResult{}, err
	}
	defer ix.Close()

	if _, err := ix.db.ExecContext(ctx, schemaDDL); err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: creating repo schema: %w", err)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: begin repo tx: %w", err)
	}
	defer tx.Rollback()

	meta := map[string]string{
		"chunking_version":        opts.Chunking.Version,
		"chunking_target_tokens":  fmt.Sprint(opts.Chunking.TargetTokens),
		"chunking_max_tokens":     fmt.Sprint(opts.Chunking.MaxTokens),
		"chunking_overlap_tokens": fmt.Sprint(opts.Chunking.OverlapTokens),
		"tokenizer_adapter":       opts.TokenizerAdapter,
		"tokenizer_model":         opts.TokenizerModel,
		"corpus_type":             "repo",
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, upsertMetaSQL, k, v); err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: writing repo schema_meta: %w", err)
		}
	}

	result := BuildResult{}
	for _, r := range reads {
		if !r.ok {
			continue
		}
		rel := r.rel
		content := r.content
		mtime := r.mtime

		uid := "FILE:" + rel
		sum := sha256.Sum256([]byte(content))
		tags, _ := json.Marshal([]string{strings.TrimPrefix(filepath.Ext(rel), ".")})
		frontmatter, _ := json.Marshal(map[string]string{"file_path": rel})

		if err := insertRepoItem(ctx, tx, uid, rel, mtime, hex.EncodeToString(sum[:]), string(frontmatter), string(tags)); err != nil {
			return BuildResult{}, err
		}
		result.ItemsIndexed++

		if strings.TrimSpace(content) == "" {
			continue
		}

		chunks, err := chunking.ChunkTextWithTokenizer(uid, content, opts.Chunking, opts.Tokenizer)
		if err != nil {
			return BuildResult{}, fmt.Errorf("chunkindex: chunking %s: %w", rel, err)
		}
		for i, c := range chunks {
			trimmed := strings.TrimSpace(c.Text)
			if trimmed == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, insertChunkSQL, c.ChunkID, uid, i, trimmed, "content", nil); err != nil {
				return BuildResult{}, fmt.Errorf("chunkindex: inserting repo chunk %s: %w", c.ChunkID, err)
			}
			result.ChunksIndexed++
		}
	}

	if err := tx.Commit(); err != nil {
		return BuildResult{}, fmt.Errorf("chunkindex: commit repo index: %w", err)
	}
	return result, nil
}

func insertRepoItem(ctx context.Context, tx *sql.Tx, uid, relPath string, mtime float64, hash, frontmatterJSON, tagsJSON string) error {
	_, err := tx.ExecContext(ctx, insertItemSQL,
		uid, uid, "File", "Active", filepath.Base(relPath), relPath, mtime,
		hash, frontmatterJSON, "", "", "P3", "", "system", "repo", "n/a", tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("chunkindex: inserting repo item %s: %w", uid, err)
	}
	return nil
}

// scanRepoFiles walks root applying include glob patterns and excluding
// any path containing an ExcludePatterns component, returning workspace-
// relative slash paths, deduplicated and sorted by walk order.
func scanRepoFiles(root string, include, exclude []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			for _, ex := range exclude {
				if info.Name() == ex {
					return filepath.SkipDir
				}
			}
			return nil
		}

		for _, part := range strings.Split(rel, "/") {
			for _, ex := range exclude {
				if part == ex {
					return nil
				}
			}
		}

		matched := false
		for _, pat := range include {
			if ok, _ := filepath.Match(pat, info.Name()); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}

		if info.Size() > MaxRepoFileSizeBytes || info.Size() == 0 {
			return nil
		}

		if !seen[rel] {
			seen[rel] = true
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunkindex: scanning repo files: %w", err)
	}
	return out, nil
}

// fileReadResult is one scanRepoFiles candidate's read outcome.
type fileReadResult struct {
	rel     string
	content string
	ok      bool
	mtime   float64
}

// readRepoFiles stats and reads each candidate file concurrently, bounded
// by maxConcurrentFileReads, preserving files' input order in the returned
// slice so downstream indexing stays deterministic.
func readRepoFiles(ctx context.Context, workspaceRoot string, files []string) ([]fileReadResult, error) {
	results := make([]fileReadResult, len(files))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFileReads)

	for i, rel := range files {
		i, rel := i, rel
		g.Go(func() error {
			abs := filepath.Join(workspaceRoot, rel)
			content, ok := readIfText(abs)
			var mtime float64
			if info, err := os.Stat(abs); err == nil {
				mtime = float64(info.ModTime().Unix())
			}
			results[i] = fileReadResult{rel: rel, content: content, ok: ok, mtime: mtime}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("chunkindex: reading repo files: %w", err)
	}
	return results, nil
}

// readIfText reads path and returns (content, true) unless it looks binary
// (a NUL byte in the first 8 KiB) or cannot be read, matching the common
// corpus-scanning idiom used for .gitignore-style filters.
func readIfText(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, _ := f.Read(buf)
	if bytes.IndexByte(buf[:n], 0) >= 0 {
		return "", false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(content), true
}
