package chunkindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

// encodeVector packs a []float32 into a little-endian byte blob for the
// chunks.embedding column.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// UpdateEmbeddings lazily populates the embedding column: Build/Refresh
// never call an embedder, so every chunk starts with embedding NULL.
// UpdateEmbeddings selects the NULL rows, embeds their content in batches
// of batchSize via embedder, and writes each vector back. It returns how
// many chunks were newly embedded.
func UpdateEmbeddings(ctx context.Context, ix *Index, embedder EmbeddingAdapter, batchSize int) (int, error) {
	if embedder == nil {
		return 0, fmt.Errorf("%w: embedder required", kanoerr.ErrSchemaViolation)
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	type pending struct {
		chunkID string
		content string
	}
	rows, err := ix.db.QueryContext(ctx, selectUnembeddedChunksSQL)
	if err != nil {
		return 0, fmt.Errorf("chunkindex: selecting unembedded chunks: %w", err)
	}
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.chunkID, &p.content); err != nil {
			rows.Close()
			return 0, fmt.Errorf("chunkindex: scanning unembedded chunk: %w", err)
		}
		all = append(all, p)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("chunkindex: reading unembedded chunks: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("chunkindex: closing unembedded chunk rows: %w", closeErr)
	}

	updated := 0
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.content
		}
		results, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return updated, fmt.Errorf("chunkindex: embedding batch: %w", err)
		}
		if len(results) != len(batch) {
			return updated, fmt.Errorf("%w: embedder returned %d vectors for %d texts", kanoerr.ErrEmbeddingConfigMismatch, len(results), len(batch))
		}

		tx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			return updated, fmt.Errorf("chunkindex: begin embedding tx: %w", err)
		}
		for i, p := range batch {
			if _, err := tx.ExecContext(ctx, updateChunkEmbeddingSQL, encodeVector(results[i].Vector), p.chunkID); err != nil {
				tx.Rollback()
				return updated, fmt.Errorf("chunkindex: writing embedding for %s: %w", p.chunkID, err)
			}
			updated++
		}
		if err := tx.Commit(); err != nil {
			return updated, fmt.Errorf("chunkindex: commit embedding batch: %w", err)
		}
	}
	return updated, nil
}

// decodeVector unpacks a byte blob written by encodeVector back into a
// []float32.
func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
