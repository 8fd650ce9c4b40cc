package idseq

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextAllocatesMonotonically(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sequences.v1.db")
	s, err := Open(ctx, dbPath, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	n1, err := s.Next(ctx, "TSK")
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := s.Next(ctx, "TSK")
	require.NoError(t, err)
	require.Equal(t, 2, n2)

	n3, err := s.Next(ctx, "BUG")
	require.NoError(t, err)
	require.Equal(t, 1, n3, "sequences are per type_code")
}

func TestSyncBumpsWhenFileMaxAhead(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sequences.v1.db")
	s, err := Open(ctx, dbPath, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next(ctx, "TSK")
	require.NoError(t, err)

	res, err := s.Sync(ctx, "TSK", 50)
	require.NoError(t, err)
	require.True(t, res.Bumped)
	require.Equal(t, 51, res.DBNext)

	n, err := s.Next(ctx, "TSK")
	require.NoError(t, err)
	require.Equal(t, 51, n)
}

func TestHealthReportsStatuses(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sequences.v1.db")
	s, err := Open(ctx, dbPath, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	h, err := s.Health(ctx, "TSK", 0)
	require.NoError(t, err)
	require.Equal(t, HealthMissing, h.Status)

	_, err = s.Next(ctx, "TSK")
	require.NoError(t, err)

	h, err = s.Health(ctx, "TSK", 0)
	require.NoError(t, err)
	require.Equal(t, HealthOK, h.Status)

	h, err = s.Health(ctx, "TSK", 10)
	require.NoError(t, err)
	require.Equal(t, HealthStale, h.Status)
}
