package sparkcron

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("removes expired sparks and stale members", func(t *testing.T) {
		sparks := sparkdao.NewMemoryStore()
		members := memberdao.NewMemoryStore()
		now := time.Now()

		assert.NoError(t, sparks.Put(ctx, sparkdao.Spark{ID: "old", ExpiresAt: now.Add(-time.Minute)}))
		assert.NoError(t, sparks.Put(ctx, sparkdao.Spark{ID: "fresh", ExpiresAt: now.Add(time.Hour)}))

		// stale members go regardless of their connected flag
		assert.NoError(t, members.Put(ctx, memberdao.Member{SparkID: "fresh", UserID: "a", IsConnected: true, LastSeen: now.Add(-6 * time.Minute)}))
		assert.NoError(t, members.Put(ctx, memberdao.Member{SparkID: "fresh", UserID: "b", IsConnected: false, LastSeen: now.Add(-6 * time.Minute)}))
		assert.NoError(t, members.Put(ctx, memberdao.Member{SparkID: "fresh", UserID: "c", IsConnected: true, LastSeen: now}))

		sweeper := New(sparks, members, zerolog.Nop())
		assert.NoError(t, sweeper.RunOnce(ctx))

		_, ok, _ := sparks.Spark(ctx, "old")
		assert.False(t, ok)
		_, ok, _ = sparks.Spark(ctx, "fresh")
		assert.True(t, ok)

		_, ok, _ = members.Member(ctx, "fresh", "a")
		assert.False(t, ok)
		_, ok, _ = members.Member(ctx, "fresh", "b")
		assert.False(t, ok)
		_, ok, _ = members.Member(ctx, "fresh", "c")
		assert.True(t, ok)
	})

	t.Run("empty stores are a no-op", func(t *testing.T) {
		sweeper := New(sparkdao.NewMemoryStore(), memberdao.NewMemoryStore(), zerolog.Nop())
		assert.NoError(t, sweeper.RunOnce(ctx))
	})
}

func TestLifecycle(t *testing.T) {
	t.Run("start and stop are idempotent", func(t *testing.T) {
		sweeper := New(sparkdao.NewMemoryStore(), memberdao.NewMemoryStore(), zerolog.Nop())
		sweeper.Interval = time.Hour // never fires during the test

		ctx := context.Background()
		sweeper.Start(ctx)
		sweeper.Start(ctx)
		sweeper.Stop()
		sweeper.Stop()
	})

	t.Run("ticker sweeps", func(t *testing.T) {
		sparks := sparkdao.NewMemoryStore()
		ctx := context.Background()
		assert.NoError(t, sparks.Put(ctx, sparkdao.Spark{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)}))

		sweeper := New(sparks, memberdao.NewMemoryStore(), zerolog.Nop())
		sweeper.Interval = 10 * time.Millisecond
		sweeper.Start(ctx)
		defer sweeper.Stop()

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if _, ok, _ := sparks.Spark(ctx, "old"); !ok {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatal("expired spark was not swept")
	})
}
