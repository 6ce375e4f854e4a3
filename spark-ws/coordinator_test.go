package sparkws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

type fakeHandle struct {
	mu   sync.Mutex
	open bool
	sent [][]byte
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{open: true}
}

func (f *fakeHandle) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return fmt.Errorf("handle closed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeHandle) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeHandle) events(t *testing.T) []event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var events []event
	for _, payload := range f.sent {
		var e event
		assert.NoError(t, json.Unmarshal(payload, &e))
		events = append(events, e)
	}
	return events
}

func (f *fakeHandle) eventsOfType(t *testing.T, eventType string) []event {
	var matched []event
	for _, e := range f.events(t) {
		if e.Type == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func (f *fakeHandle) lastEvent(t *testing.T) event {
	events := f.events(t)
	assert.NotEmpty(t, events)
	return events[len(events)-1]
}

func newTestCoordinator(t *testing.T) (*Coordinator, *sparkdao.MemoryStore, *memberdao.MemoryStore) {
	sparks := sparkdao.NewMemoryStore()
	members := memberdao.NewMemoryStore()

	err := sparks.Put(context.Background(), sparkdao.Spark{
		ID:         "S1",
		FlashColor: "#FFB800",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		IsActive:   true,
	})
	assert.NoError(t, err)

	return NewCoordinator(sparks, members, NewRegistry(), zerolog.Nop()), sparks, members
}

func join(c *Coordinator, h Handle, sparkID, userID string) {
	c.HandleMessage(context.Background(), h, []byte(fmt.Sprintf(`{"type":"join","sparkId":%q,"userId":%q}`, sparkID, userID)))
}

func TestJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("first member gets joined ack", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		a := newFakeHandle()

		join(c, a, "S1", "A")

		events := a.events(t)
		assert.Len(t, events, 1)
		assert.Equal(t, EventJoined, events[0].Type)
		assert.Equal(t, "S1", events[0].SparkID)
		assert.Equal(t, 1, *events[0].Connections)

		member, ok, err := members.Member(ctx, "S1", "A")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, member.IsConnected)
	})

	t.Run("unknown spark creates no state", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		a := newFakeHandle()

		join(c, a, "NOPE", "A")

		assert.Equal(t, EventError, a.lastEvent(t).Type)
		assert.Equal(t, "Invalid or expired spark", a.lastEvent(t).Message)
		assert.Equal(t, 0, c.Registry.Len())

		_, ok, err := members.Member(ctx, "NOPE", "A")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired spark creates no state", func(t *testing.T) {
		c, sparks, _ := newTestCoordinator(t)
		assert.NoError(t, sparks.Put(ctx, sparkdao.Spark{
			ID:        "OLD",
			ExpiresAt: time.Now().Add(-time.Minute),
			IsActive:  true,
		}))

		a := newFakeHandle()
		join(c, a, "OLD", "A")

		assert.Equal(t, EventError, a.lastEvent(t).Type)
		assert.Equal(t, 0, c.Registry.Len())
	})

	t.Run("inactive spark creates no state", func(t *testing.T) {
		c, sparks, _ := newTestCoordinator(t)
		assert.NoError(t, sparks.SetActivity(ctx, "S1", false))

		a := newFakeHandle()
		join(c, a, "S1", "A")

		assert.Equal(t, EventError, a.lastEvent(t).Type)
		assert.Equal(t, 0, c.Registry.Len())
	})

	t.Run("second member notifies only the first", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()

		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		userJoined := a.eventsOfType(t, EventUserJoined)
		assert.Len(t, userJoined, 1)
		assert.Equal(t, "B", userJoined[0].UserID)
		assert.Equal(t, 2, *userJoined[0].Connections)

		// the joiner never receives user_joined for its own join
		assert.Empty(t, b.eventsOfType(t, EventUserJoined))
		assert.Equal(t, 2, *b.lastEvent(t).Connections)
	})

	t.Run("rejoin replaces the handle, never duplicates", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		h1, h2 := newFakeHandle(), newFakeHandle()

		join(c, h1, "S1", "A")
		join(c, h2, "S1", "A")

		assert.Equal(t, 1, c.Registry.Len())
		current, ok := c.Registry.Get("S1", "A")
		assert.True(t, ok)
		assert.Equal(t, Handle(h2), current)
	})
}

func TestLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("updates position and broadcasts to others only", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, a, []byte(`{"type":"location","latitude":1.0,"longitude":1.0}`))

		member, _, err := members.Member(ctx, "S1", "A")
		assert.NoError(t, err)
		assert.Equal(t, 1.0, *member.Latitude)
		assert.Equal(t, 1.0, *member.Longitude)

		updates := b.eventsOfType(t, EventLocationUpdate)
		assert.Len(t, updates, 1)
		assert.Equal(t, "A", updates[0].UserID)
		assert.Equal(t, 1.0, *updates[0].Latitude)
		assert.Len(t, updates[0].OtherUsers, 1)
		assert.Equal(t, "A", updates[0].OtherUsers[0].UserID)

		// the sender receives nothing for its own location update
		assert.Empty(t, a.eventsOfType(t, EventLocationUpdate))
	})

	t.Run("dropped when not joined", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		h := newFakeHandle()

		c.HandleMessage(ctx, h, []byte(`{"type":"location","latitude":1.0,"longitude":1.0}`))

		assert.Empty(t, h.events(t))
	})

	t.Run("dropped from a superseded handle", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		h1, h2 := newFakeHandle(), newFakeHandle()
		join(c, h1, "S1", "A")
		join(c, h2, "S1", "A")

		c.HandleMessage(ctx, h1, []byte(`{"type":"location","latitude":9.0,"longitude":9.0}`))

		member, _, err := members.Member(ctx, "S1", "A")
		assert.NoError(t, err)
		assert.Nil(t, member.Latitude)
	})
}

func TestSignals(t *testing.T) {
	ctx := context.Background()

	t.Run("sync reaches everyone including the sender", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, a, []byte(`{"type":"sync","timestamp":500}`))

		for _, h := range []*fakeHandle{a, b} {
			signals := h.eventsOfType(t, EventSyncSignal)
			assert.Len(t, signals, 1)
			assert.EqualValues(t, 500, *signals[0].Timestamp)
			assert.Equal(t, "A", signals[0].FromUser)
		}
	})

	t.Run("flash carries the spark color and excludes the sender", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, b, []byte(`{"type":"flash","timestamp":1000}`))

		flashes := a.eventsOfType(t, EventFlashSignal)
		assert.Len(t, flashes, 1)
		assert.EqualValues(t, 1000, *flashes[0].Timestamp)
		assert.Equal(t, "#FFB800", flashes[0].Color)
		assert.Equal(t, "B", flashes[0].FromUser)
		assert.False(t, *flashes[0].Synchronized)

		assert.Empty(t, b.eventsOfType(t, EventFlashSignal))
	})

	t.Run("constant blink start carries color, stop does not", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, a, []byte(`{"type":"start_constant_blink","timestamp":1}`))
		c.HandleMessage(ctx, a, []byte(`{"type":"stop_constant_blink","timestamp":2}`))

		starts := b.eventsOfType(t, EventStartConstantBlinkSignal)
		assert.Len(t, starts, 1)
		assert.Equal(t, "#FFB800", starts[0].Color)

		stops := b.eventsOfType(t, EventStopConstantBlinkSignal)
		assert.Len(t, stops, 1)
		assert.Equal(t, "", stops[0].Color)

		assert.Empty(t, a.eventsOfType(t, EventStartConstantBlinkSignal))
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit disconnect notifies the remaining member", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, b, []byte(`{"type":"disconnect"}`))

		left := a.eventsOfType(t, EventUserLeft)
		assert.Len(t, left, 1)
		assert.Equal(t, "B", left[0].UserID)
		assert.Equal(t, 0, *left[0].Connections)

		assert.Equal(t, 1, c.Registry.Len())

		// membership is retained for reconnection, just marked disconnected
		member, ok, err := members.Member(ctx, "S1", "B")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, member.IsConnected)
	})

	t.Run("duplicate close produces no second broadcast", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, b, []byte(`{"type":"disconnect"}`))
		c.HandleClose(ctx, b)

		assert.Len(t, a.eventsOfType(t, EventUserLeft), 1)
	})

	t.Run("superseded handle close keeps the newer entry", func(t *testing.T) {
		c, _, members := newTestCoordinator(t)
		a := newFakeHandle()
		h1, h2 := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, h1, "S1", "B")
		join(c, h2, "S1", "B")

		c.HandleClose(ctx, h1)

		current, ok := c.Registry.Get("S1", "B")
		assert.True(t, ok)
		assert.Equal(t, Handle(h2), current)

		member, _, err := members.Member(ctx, "S1", "B")
		assert.NoError(t, err)
		assert.True(t, member.IsConnected)
		assert.Empty(t, a.eventsOfType(t, EventUserLeft))
	})

	t.Run("three member count", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b, d := newFakeHandle(), newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")
		join(c, d, "S1", "D")

		c.HandleClose(ctx, d)

		for _, h := range []*fakeHandle{a, b} {
			left := h.eventsOfType(t, EventUserLeft)
			assert.Len(t, left, 1)
			assert.Equal(t, "D", left[0].UserID)
			assert.Equal(t, 1, *left[0].Connections)
		}
	})
}

func TestErrorHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed payload replies to sender only", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		c.HandleMessage(ctx, a, []byte(`{not json`))

		assert.Equal(t, EventError, a.lastEvent(t).Type)
		assert.Equal(t, "Invalid message format", a.lastEvent(t).Message)
		assert.Empty(t, b.eventsOfType(t, EventError))
	})

	t.Run("closed handle is skipped, not removed", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		a, b := newFakeHandle(), newFakeHandle()
		join(c, a, "S1", "A")
		join(c, b, "S1", "B")

		b.mu.Lock()
		b.open = false
		b.mu.Unlock()

		c.HandleMessage(ctx, a, []byte(`{"type":"sync","timestamp":1}`))

		// removal only happens through the disconnect transition
		assert.Equal(t, 2, c.Registry.Len())
		assert.Len(t, a.eventsOfType(t, EventSyncSignal), 1)
	})
}

// TestScenario walks the two-user happy path end to end.
func TestScenario(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	a, b := newFakeHandle(), newFakeHandle()

	join(c, a, "S1", "A")
	assert.Equal(t, EventJoined, a.lastEvent(t).Type)
	assert.Equal(t, "S1", a.lastEvent(t).SparkID)
	assert.Equal(t, 1, *a.lastEvent(t).Connections)

	join(c, b, "S1", "B")
	userJoined := a.eventsOfType(t, EventUserJoined)
	assert.Len(t, userJoined, 1)
	assert.Equal(t, "B", userJoined[0].UserID)
	assert.Equal(t, 2, *userJoined[0].Connections)
	assert.Equal(t, 2, *b.lastEvent(t).Connections)

	c.HandleMessage(ctx, a, []byte(`{"type":"location","latitude":1.0,"longitude":1.0}`))
	updates := b.eventsOfType(t, EventLocationUpdate)
	assert.Len(t, updates, 1)
	assert.Equal(t, []UserPosition{{UserID: "A", Latitude: 1.0, Longitude: 1.0}}, updates[0].OtherUsers)
	assert.Empty(t, a.eventsOfType(t, EventLocationUpdate))

	c.HandleMessage(ctx, b, []byte(`{"type":"flash","timestamp":1000}`))
	flashes := a.eventsOfType(t, EventFlashSignal)
	assert.Len(t, flashes, 1)
	assert.Equal(t, "#FFB800", flashes[0].Color)
	assert.Equal(t, "B", flashes[0].FromUser)
	assert.Empty(t, b.eventsOfType(t, EventFlashSignal))

	c.HandleMessage(ctx, b, []byte(`{"type":"disconnect"}`))
	left := a.eventsOfType(t, EventUserLeft)
	assert.Len(t, left, 1)
	assert.Equal(t, "B", left[0].UserID)
	assert.Equal(t, 0, *left[0].Connections)
}
