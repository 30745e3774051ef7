package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBindingStore(t *testing.T, ttl time.Duration) (*BindingStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewBindingStore(client, ttl, zerolog.Nop()), mr
}

func TestBindingRoundTrip(t *testing.T) {
	store, _ := newTestBindingStore(t, time.Minute)
	ctx := context.Background()

	want := Binding{QuizID: 7, ChatID: -100, QuestionIndex: 2, CorrectIndex: 1}
	require.NoError(t, store.Put(ctx, "ref-1", want))

	got, err := store.Get(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestBindingMissingIsNil(t *testing.T) {
	store, _ := newTestBindingStore(t, time.Minute)

	got, err := store.Get(context.Background(), "never-stored")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestBindingExpires(t *testing.T) {
	store, mr := newTestBindingStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ref-1", Binding{QuizID: 7}))
	mr.FastForward(time.Minute + time.Second)

	got, err := store.Get(ctx, "ref-1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestBindingDelete(t *testing.T) {
	store, _ := newTestBindingStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ref-1", Binding{QuizID: 7}))
	require.NoError(t, store.Delete(ctx, "ref-1"))

	got, err := store.Get(ctx, "ref-1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkAnsweredFirstOnly(t *testing.T) {
	store, _ := newTestBindingStore(t, time.Minute)
	ctx := context.Background()

	first, err := store.MarkAnswered(ctx, "ref-1", 42)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.MarkAnswered(ctx, "ref-1", 42)
	require.NoError(t, err)
	assert.False(t, again)

	// Other users and other broadcasts are independent.
	other, err := store.MarkAnswered(ctx, "ref-1", 43)
	require.NoError(t, err)
	assert.True(t, other)

	nextQ, err := store.MarkAnswered(ctx, "ref-2", 42)
	require.NoError(t, err)
	assert.True(t, nextQ)
}
