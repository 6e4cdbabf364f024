package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

func exerciseStore(t *testing.T, s Store[record]) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Save(ctx, "", record{}), ErrInvalidID)

	require.NoError(t, s.Save(ctx, "b", record{Name: "second"}))
	require.NoError(t, s.Save(ctx, "a", record{Name: "first", Steps: []string{"x", "y"}}))

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, record{Name: "first", Steps: []string{"x", "y"}}, got)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestInMemory(t *testing.T) {
	exerciseStore(t, NewInMemory[record]())
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exerciseStore(t, NewRedis[record](client, WithPrefix("test")))
	assert.True(t, mr.Exists("test:b"))
}

func TestRedis_TTLExpiryPrunesIndex(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedis[record](client, WithTTL(time.Minute))
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "r1", record{Name: "r1"}))

	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	members, err := mr.Members("agentflow:index")
	if err == nil {
		assert.Empty(t, members)
	}
}
