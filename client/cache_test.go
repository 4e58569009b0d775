package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campushub/notify/client/store"
	"github.com/campushub/notify/models"
)

func TestCacheReadWithinTTL(t *testing.T) {
	cache := NewNoticeCache(store.NewSessionStore())
	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	notices := []models.Notice{{Title: "Sports day"}}
	require.NoError(t, cache.Write(notices))

	now = base.Add(NoticeCacheTTL - time.Second)
	got := cache.Read()
	require.NotNil(t, got)
	require.Equal(t, "Sports day", got[0].Title)
}

func TestCacheReadPastTTLReturnsNil(t *testing.T) {
	cache := NewNoticeCache(store.NewSessionStore())
	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Write([]models.Notice{{Title: "Stale"}}))

	now = base.Add(NoticeCacheTTL + time.Second)
	require.Nil(t, cache.Read())
}

func TestCacheEmptyAndCorrupt(t *testing.T) {
	kv := store.NewSessionStore()
	cache := NewNoticeCache(kv)

	require.Nil(t, cache.Read())

	require.NoError(t, kv.Set("notices", []byte("{broken")))
	require.Nil(t, cache.Read())
}

func TestCacheWriteOverwritesWhole(t *testing.T) {
	cache := NewNoticeCache(store.NewSessionStore())

	require.NoError(t, cache.Write([]models.Notice{{Title: "One"}, {Title: "Two"}}))
	require.NoError(t, cache.Write([]models.Notice{{Title: "Three"}}))

	got := cache.Read()
	require.Len(t, got, 1)
	require.Equal(t, "Three", got[0].Title)
}
