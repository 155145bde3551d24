package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDirectory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	dir := NewRedisDirectory(client, 10*time.Second, nil)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, dir.Put(ctx, Record{DocumentID: "doc_1", UserID: "usr_bob", JoinedAt: base.Add(time.Second)}))
	require.NoError(t, dir.Put(ctx, Record{DocumentID: "doc_1", UserID: "usr_ada", JoinedAt: base}))
	require.NoError(t, dir.Put(ctx, Record{DocumentID: "doc_2", UserID: "usr_eve", JoinedAt: base}))

	recs, err := dir.List(ctx, "doc_1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "usr_ada", recs[0].UserID, "ordered by join time")
	assert.Equal(t, "usr_bob", recs[1].UserID)

	require.NoError(t, dir.Remove(ctx, "doc_1", "usr_bob"))
	recs, err = dir.List(ctx, "doc_1")
	require.NoError(t, err)
	require.Len(t, recs, 1)

	mr.FastForward(6 * time.Second)
	require.NoError(t, dir.Put(ctx, Record{DocumentID: "doc_2", UserID: "usr_eve", JoinedAt: base}))
	mr.FastForward(6 * time.Second)

	recs, err = dir.List(ctx, "doc_1")
	require.NoError(t, err)
	assert.Empty(t, recs, "expired records are dropped")
	members, err := client.SMembers(ctx, "presence:doc_1").Result()
	require.NoError(t, err)
	assert.Empty(t, members)

	recs, err = dir.List(ctx, "doc_2")
	require.NoError(t, err)
	assert.Len(t, recs, 1, "a refreshed record survives")
}
