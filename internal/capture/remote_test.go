package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/vidassess/internal/assessment"
)

func TestRemoteGrant(t *testing.T) {
	r := NewRemote(nil)
	go r.Grant()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Acquire(ctx))
}

func TestRemoteDenyKeepsFirstReport(t *testing.T) {
	r := NewRemote(nil)
	r.Deny("NotAllowedError")
	r.Grant()

	err := r.Acquire(context.Background())
	require.ErrorIs(t, err, assessment.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "NotAllowedError")
}

func TestRemoteAcquireHonoursContext(t *testing.T) {
	r := NewRemote(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.Acquire(ctx), context.Canceled)
}

func TestRemoteReleaseIsIdempotent(t *testing.T) {
	calls := 0
	r := NewRemote(func() error {
		calls++
		return nil
	})

	require.NoError(t, r.Release())
	require.NoError(t, r.Release())
	assert.Equal(t, 1, calls)
}
