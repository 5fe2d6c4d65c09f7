//go:build !windows

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
)

func TestFileStore_HeldLockFailsFast(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "s1", nil)
	require.NoError(t, err)

	// Simulate another process holding the lock.
	held, err := tryLockFile(filepath.Join(s.Dir(), "s1"+lockSuffix))
	require.NoError(t, err)
	defer held.unlock()

	_, err = s.Commit(ctx, "s1", 0, nil)
	assert.ErrorIs(t, err, core.ErrVersionConflict)
}
