// Package idseq allocates per-(product,type) display-ID numbers from a
// SQLite sequence table, reconciled against the on-disk maximum.
package idseq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kano-ai/backlog/internal/kanoerr"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`
	pragmaBusyTimeout    = `PRAGMA busy_timeout = 1000;`

	sequencesTableSchema = `CREATE TABLE IF NOT EXISTS id_sequences (
		type_code TEXT PRIMARY KEY,
		next_number INTEGER NOT NULL DEFAULT 1
	);`

	selectNextSQL = `SELECT next_number FROM id_sequences WHERE type_code = ?;`
	insertZeroSQL = `INSERT INTO id_sequences (type_code, next_number) VALUES (?, 1);`
	bumpSQL       = `UPDATE id_sequences SET next_number = ? WHERE type_code = ?;`
)

// maxAllocAttempts bounds the BUSY retry loop; combined with the backoff
// schedule below, total wait stays under one second.
const maxAllocAttempts = 10

// Sequencer owns one product's id_sequences table.
type Sequencer struct {
	db *sql.DB
	// ProductRoot is used by Sync/Health to compute on-disk maxima.
	ProductRoot string
}

// Open opens (creating if absent) the SQLite database at dbPath and ensures
// the id_sequences schema exists.
func Open(ctx context.Context, dbPath, productRoot string) (*Sequencer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("idseq: opening %s: %w", dbPath, err)
	}
	if _, err := db.ExecContext(ctx, pragmaJournalModeWAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("idseq: set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, pragmaBusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("idseq: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sequencesTableSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("idseq: creating schema: %w", err)
	}
	return &Sequencer{db: db, ProductRoot: productRoot}, nil
}

// Close releases the underlying database handle.
func (s *Sequencer) Close() error { return s.db.Close() }

// Next allocates and returns the next integer for typeCode, retrying on
// SQLite BUSY with a bounded exponential backoff capped at ~1s total.
func (s *Sequencer) Next(ctx context.Context, typeCode string) (int, error) {
	var lastErr error
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		n, err := s.tryNext(ctx, typeCode)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !isBusy(err) {
			return 0, fmt.Errorf("idseq: allocating %s: %w", typeCode, err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff + time.Duration(rand.Intn(5))*time.Millisecond):
		}
		backoff *= 2
		if backoff > 100*time.Millisecond {
			backoff = 100 * time.Millisecond
		}
	}
	return 0, fmt.Errorf("%w: allocating %s after %d attempts: %v", kanoerr.ErrBusy, typeCode, maxAllocAttempts, lastErr)
}

func (s *Sequencer) tryNext(ctx context.Context, typeCode string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx, selectNextSQL, typeCode).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, insertZeroSQL, typeCode); err != nil {
			return 0, err
		}
		next = 1
	} else if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, bumpSQL, next+1, typeCode); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func isBusy(err error) bool {
	return strings.Contains(err.Error(), "busy") || strings.Contains(err.Error(), "locked")
}

// SyncResult is the outcome of reconciling one type_code's sequence row
// against the on-disk maximum.
type SyncResult struct {
	TypeCode string
	DBNext   int
	FileMax  int
	Bumped   bool
}

// Sync compares fileMax, the highest number the caller found on disk for
// typeCode, with the stored next_number and, if fileMax+1 exceeds it,
// advances the sequence row to fileMax+1. The caller computes fileMax so
// this package does not depend on canonical's filesystem layout directly.
func (s *Sequencer) Sync(ctx context.Context, typeCode string, fileMax int) (SyncResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SyncResult{}, err
	}
	defer tx.Rollback()

	var dbNext int
	err = tx.QueryRowContext(ctx, selectNextSQL, typeCode).Scan(&dbNext)
	if errors.Is(err, sql.ErrNoRows) {
		dbNext = 1
		if _, err := tx.ExecContext(ctx, insertZeroSQL, typeCode); err != nil {
			return SyncResult{}, err
		}
	} else if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{TypeCode: typeCode, DBNext: dbNext, FileMax: fileMax}
	if fileMax+1 > dbNext {
		if _, err := tx.ExecContext(ctx, bumpSQL, fileMax+1, typeCode); err != nil {
			return SyncResult{}, err
		}
		res.DBNext = fileMax + 1
		res.Bumped = true
	}
	if err := tx.Commit(); err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// HealthStatus classifies the relationship between the stored sequence and
// the on-disk maximum for one type_code.
type HealthStatus string

const (
	HealthOK      HealthStatus = "OK"
	HealthStale   HealthStatus = "STALE"
	HealthMissing HealthStatus = "MISSING"
)

// HealthReport is one type_code's {db_next, file_max, status} triple.
type HealthReport struct {
	TypeCode string
	DBNext   int
	FileMax  int
	Status   HealthStatus
}

// Health reports, without mutating the sequence table, whether typeCode's
// stored next_number is consistent with fileMax.
func (s *Sequencer) Health(ctx context.Context, typeCode string, fileMax int) (HealthReport, error) {
	var dbNext int
	err := s.db.QueryRowContext(ctx, selectNextSQL, typeCode).Scan(&dbNext)
	if errors.Is(err, sql.ErrNoRows) {
		return HealthReport{TypeCode: typeCode, DBNext: 0, FileMax: fileMax, Status: HealthMissing}, nil
	}
	if err != nil {
		return HealthReport{}, err
	}
	status := HealthOK
	if fileMax+1 > dbNext {
		status = HealthStale
	}
	return HealthReport{TypeCode: typeCode, DBNext: dbNext, FileMax: fileMax, Status: status}, nil
}
