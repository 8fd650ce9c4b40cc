package kanoerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config not found", fmt.Errorf("%w: /tmp/x", ErrConfigNotFound), ExitUser},
		{"ready gate wrapped", NewReadyGateError([]string{"risks"}), ExitUser},
		{"busy is internal-classified", ErrBusy, ExitInternal},
		{"unrecognized", errors.New("boom"), ExitInternal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExitCode(c.err))
		})
	}
}

func TestReadyGateErrorUnwrap(t *testing.T) {
	err := NewReadyGateError([]string{"context", "goal"})
	require.True(t, errors.Is(err, ErrReadyGateFailed))

	var rge *ReadyGateError
	require.True(t, errors.As(err, &rge))
	assert.Equal(t, []string{"context", "goal"}, rge.Missing)
}
