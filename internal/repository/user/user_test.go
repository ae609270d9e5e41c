package user

import (
	"context"
	"testing"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"
	"e2e_trace/internal/utils/mongotest"

	"github.com/stretchr/testify/require"
)

var _ index.IdentityKeyStore = (*UserRepo)(nil)

func TestUserRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo(mongotest.Database(t))
	require.NoError(t, repo.EnsureIndexes(ctx))

	ik := model.IdentityKey{1, 2, 3}
	_, err := repo.Create(ctx, &model.User{Name: "alice", IdentityKey: ik[:]})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.User{Name: "keyless"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &model.User{Name: "alice", IdentityKey: ik[:]})
	require.Error(t, err)

	u, err := repo.GetByName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	got, ok := u.Key()
	require.True(t, ok)
	require.Equal(t, ik, got)

	u, err = repo.GetByName(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, u)

	keys, err := repo.Query(ctx, []model.UserID{"alice", "keyless", "nobody"})
	require.NoError(t, err)
	require.Equal(t, map[model.UserID]model.IdentityKey{"alice": ik}, keys)
}
