package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/angelfsepulveda/customchatfree/internal/storage"
)

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateUser(ctx, nil, "alice")
	require.NoError(t, err)
	second, err := svc.GetOrCreateUser(ctx, nil, " alice ")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, countRows(t, db, "users"))
	assert.Equal(t, 1, countLogs(t, db, ActionUserCreated))

	user, err := svc.GetUserByUsername(ctx, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, user.ID)

	_, err = svc.GetUserByUsername(ctx, nil, "nobody")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetOrCreateUserConcurrent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	ids := make([]int64, 8)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			id, err := svc.GetOrCreateUser(ctx, nil, "bob")
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, countRows(t, db, "users"))
	assert.Equal(t, 1, countLogs(t, db, ActionUserCreated))
}
