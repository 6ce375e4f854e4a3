package memberdao

import (
	"context"
	"testing"
	"time"

	"github.com/tj/assert"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert keeps one record per pair", func(t *testing.T) {
		store := NewMemoryStore()
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: true, LastSeen: time.Now()}))
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: false, LastSeen: time.Now()}))

		member, ok, err := store.Member(ctx, "s1", "a")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, member.IsConnected)

		all, err := store.BySpark(ctx, "s1")
		assert.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("by spark returns connected members only", func(t *testing.T) {
		store := NewMemoryStore()
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: true}))
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "b", IsConnected: false}))
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s2", UserID: "c", IsConnected: true}))

		members, err := store.BySpark(ctx, "s1")
		assert.NoError(t, err)
		assert.Len(t, members, 1)
		assert.Equal(t, "a", members[0].UserID)
	})

	t.Run("update location refreshes last seen", func(t *testing.T) {
		store := NewMemoryStore()
		stale := time.Now().Add(-time.Hour)
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: true, LastSeen: stale}))

		assert.NoError(t, store.UpdateLocation(ctx, "s1", "a", 1.5, -2.5))

		member, _, err := store.Member(ctx, "s1", "a")
		assert.NoError(t, err)
		assert.Equal(t, 1.5, *member.Latitude)
		assert.Equal(t, -2.5, *member.Longitude)
		assert.True(t, member.LastSeen.After(stale))

		// missing members are a no-op
		assert.NoError(t, store.UpdateLocation(ctx, "s1", "zzz", 0, 0))
	})

	t.Run("update status refreshes last seen", func(t *testing.T) {
		store := NewMemoryStore()
		stale := time.Now().Add(-time.Hour)
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: true, LastSeen: stale}))

		assert.NoError(t, store.UpdateStatus(ctx, "s1", "a", false))

		member, _, err := store.Member(ctx, "s1", "a")
		assert.NoError(t, err)
		assert.False(t, member.IsConnected)
		assert.True(t, member.LastSeen.After(stale))
	})

	t.Run("delete stale ignores the connected flag", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "a", IsConnected: true, LastSeen: now.Add(-10 * time.Minute)}))
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "b", IsConnected: false, LastSeen: now.Add(-10 * time.Minute)}))
		assert.NoError(t, store.Put(ctx, Member{SparkID: "s1", UserID: "c", IsConnected: true, LastSeen: now}))

		removed, err := store.DeleteStale(ctx, now.Add(-5*time.Minute))
		assert.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, ok, _ := store.Member(ctx, "s1", "a")
		assert.False(t, ok)
		_, ok, _ = store.Member(ctx, "s1", "c")
		assert.True(t, ok)
	})
}
