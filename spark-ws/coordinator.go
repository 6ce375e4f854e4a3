package sparkws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	sparkcli "github.com/fireflyhq/spark-server/spark-cli"
	"github.com/fireflyhq/spark-server/spark-ws/memberdao"
	"github.com/fireflyhq/spark-server/spark-ws/sparkdao"
)

// Coordinator owns the mapping from spark to active member sockets. It
// validates and applies membership-changing control messages, mutates the
// member store, and fans events out to the right subset of registry handles.
//
// All state transitions run under a single mutex so that registry mutation
// and broadcast target enumeration never interleave. Handle sends are
// non-blocking queue pushes, so holding the mutex across a broadcast is
// cheap and keeps per-receiver event order consistent with processing order.
type Coordinator struct {
	Sparks   sparkdao.Store
	Members  memberdao.Store
	Registry *Registry
	Logger   zerolog.Logger
	Metrics  *sparkcli.Metrics // optional

	mu       sync.Mutex
	bindings map[Handle]connKey
}

// NewCoordinator creates a coordinator over the given stores and registry.
func NewCoordinator(sparks sparkdao.Store, members memberdao.Store, registry *Registry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		Sparks:   sparks,
		Members:  members,
		Registry: registry,
		Logger:   logger,
		bindings: make(map[Handle]connKey),
	}
}

// HandleMessage processes one inbound control message from a transport
// handle. Malformed payloads get an error reply to the sender only; messages
// from handles that are not currently joined (other than join itself) are
// dropped silently. No failure here may disturb other members.
func (c *Coordinator) HandleMessage(ctx context.Context, h Handle, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.Logger.Warn().Err(err).Msg("invalid message")
		c.sendTo(h, ErrorMessage("Invalid message format"))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Type == MsgJoin {
		c.handleJoin(ctx, h, msg.SparkID, msg.UserID)
		return
	}

	k, ok := c.bindings[h]
	if !ok {
		// Not joined, or a superseded handle whose binding is gone.
		return
	}
	if current, live := c.Registry.Get(k.sparkID, k.userID); !live || current != h {
		// The registry is authoritative; a newer handle owns this key.
		return
	}

	switch msg.Type {
	case MsgLocation:
		c.handleLocation(ctx, h, k, *msg.Latitude, *msg.Longitude)
	case MsgSync:
		c.touchMember(ctx, k)
		c.broadcast(ctx, k.sparkID, "", SyncSignalMessage(msg.Timestamp, k.userID))
	case MsgFlash:
		c.touchMember(ctx, k)
		color := c.flashColor(ctx, k.sparkID)
		c.broadcast(ctx, k.sparkID, k.userID, FlashSignalMessage(msg.Timestamp, color, k.userID, msg.Synchronized))
	case MsgStartConstantBlink:
		c.touchMember(ctx, k)
		color := c.flashColor(ctx, k.sparkID)
		c.broadcast(ctx, k.sparkID, k.userID, StartConstantBlinkSignalMessage(msg.Timestamp, color, k.userID))
	case MsgStopConstantBlink:
		c.touchMember(ctx, k)
		c.broadcast(ctx, k.sparkID, k.userID, StopConstantBlinkSignalMessage(msg.Timestamp, k.userID))
	case MsgDisconnect:
		c.leave(ctx, h, k)
	}
}

// HandleClose applies the implicit-disconnect transition for a closing
// transport. Safe to call more than once per handle, and safe to call for a
// superseded handle: only the handle currently registered for its key tears
// down membership state.
func (c *Coordinator) HandleClose(ctx context.Context, h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k, ok := c.bindings[h]
	if !ok {
		return
	}
	c.leave(ctx, h, k)
}

func (c *Coordinator) handleJoin(ctx context.Context, h Handle, sparkID, userID string) {
	spark, ok, err := c.Sparks.Spark(ctx, sparkID)
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", sparkID).Msg("spark lookup failed")
		c.sendTo(h, ErrorMessage("Unable to look up spark"))
		return
	}
	if !ok || spark.Expired(time.Now()) || !spark.IsActive {
		c.sendTo(h, ErrorMessage("Invalid or expired spark"))
		return
	}

	// A handle re-joining under a different key leaves its old key first,
	// so it is never registered twice.
	if old, bound := c.bindings[h]; bound && old != (connKey{sparkID, userID}) {
		c.leave(ctx, h, old)
	}

	member, exists, err := c.Members.Member(ctx, sparkID, userID)
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", sparkID).Str("user_id", userID).Msg("member lookup failed")
		c.sendTo(h, ErrorMessage("Unable to join spark"))
		return
	}
	if !exists {
		member = memberdao.Member{
			SparkID:     sparkID,
			UserID:      userID,
			LastSeen:    time.Now(),
			IsConnected: true,
		}
		err = c.Members.Put(ctx, member)
	} else {
		err = c.Members.UpdateStatus(ctx, sparkID, userID, true)
	}
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", sparkID).Str("user_id", userID).Msg("member upsert failed")
		c.sendTo(h, ErrorMessage("Unable to join spark"))
		return
	}

	c.Registry.Set(sparkID, userID, h)
	c.bindings[h] = connKey{sparkID, userID}

	connections, err := c.connectedCount(ctx, sparkID)
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", sparkID).Msg("member count failed")
		c.sendTo(h, ErrorMessage("Unable to join spark"))
		return
	}

	c.broadcast(ctx, sparkID, userID, UserJoinedMessage(userID, connections))
	c.sendTo(h, JoinedMessage(sparkID, connections))

	c.Logger.Info().
		Str("spark_id", sparkID).
		Str("user_id", userID).
		Int("connections", connections).
		Msg("member joined")
	c.Metrics.Event(ctx, sparkcli.MembersJoinedMetric, map[sparkcli.DimensionName]string{sparkcli.SparkDimension: sparkID})
	c.Metrics.Gauge(ctx, sparkcli.LiveConnectionsMetric, float64(c.Registry.Len()))
}

func (c *Coordinator) handleLocation(ctx context.Context, h Handle, k connKey, latitude, longitude float64) {
	if err := c.Members.UpdateLocation(ctx, k.sparkID, k.userID, latitude, longitude); err != nil {
		c.Logger.Error().Err(err).Str("spark_id", k.sparkID).Str("user_id", k.userID).Msg("location update failed")
		c.sendTo(h, ErrorMessage("Unable to update location"))
		return
	}

	members, err := c.Members.BySpark(ctx, k.sparkID)
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", k.sparkID).Msg("member query failed")
		c.sendTo(h, ErrorMessage("Unable to update location"))
		return
	}

	// Every member with a known position, sender included; recipients
	// filter themselves out client-side.
	var positions []UserPosition
	for _, m := range members {
		if m.HasPosition() {
			positions = append(positions, UserPosition{
				UserID:    m.UserID,
				Latitude:  *m.Latitude,
				Longitude: *m.Longitude,
			})
		}
	}

	c.broadcast(ctx, k.sparkID, k.userID, LocationUpdateMessage(k.userID, latitude, longitude, positions))
}

// leave applies the Joined -> Left transition for (h, k). A superseded
// handle only loses its binding; the membership row stays owned by the
// newer handle.
func (c *Coordinator) leave(ctx context.Context, h Handle, k connKey) {
	delete(c.bindings, h)

	if !c.Registry.CompareAndRemove(k.sparkID, k.userID, h) {
		return
	}

	if err := c.Members.UpdateStatus(ctx, k.sparkID, k.userID, false); err != nil {
		c.Logger.Error().Err(err).Str("spark_id", k.sparkID).Str("user_id", k.userID).Msg("disconnect status update failed")
	}

	remaining := 0
	if members, err := c.Members.BySpark(ctx, k.sparkID); err != nil {
		c.Logger.Error().Err(err).Str("spark_id", k.sparkID).Msg("member count failed")
	} else {
		remaining = len(members)
	}

	// Each remaining member learns how many peers it still has.
	peers := remaining - 1
	if peers < 0 {
		peers = 0
	}
	c.broadcast(ctx, k.sparkID, k.userID, UserLeftMessage(k.userID, peers))

	c.Logger.Info().
		Str("spark_id", k.sparkID).
		Str("user_id", k.userID).
		Int("remaining", remaining).
		Msg("member left")
	c.Metrics.Gauge(ctx, sparkcli.LiveConnectionsMetric, float64(c.Registry.Len()))
}

// touchMember refreshes the sender's LastSeen on heartbeat-like activity.
func (c *Coordinator) touchMember(ctx context.Context, k connKey) {
	if err := c.Members.UpdateStatus(ctx, k.sparkID, k.userID, true); err != nil {
		c.Logger.Error().Err(err).Str("spark_id", k.sparkID).Str("user_id", k.userID).Msg("last-seen refresh failed")
	}
}

// flashColor reads the spark's shared color, falling back to the default
// when the record is unavailable.
func (c *Coordinator) flashColor(ctx context.Context, sparkID string) string {
	spark, ok, err := c.Sparks.Spark(ctx, sparkID)
	if err != nil {
		c.Logger.Error().Err(err).Str("spark_id", sparkID).Msg("spark lookup failed")
		return DefaultFlashColor
	}
	if !ok || spark.FlashColor == "" {
		return DefaultFlashColor
	}
	return spark.FlashColor
}

func (c *Coordinator) connectedCount(ctx context.Context, sparkID string) (int, error) {
	members, err := c.Members.BySpark(ctx, sparkID)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// broadcast sends payload to every registered handle in the spark except
// excludeUserID (empty string excludes nobody). Closed or saturated handles
// are skipped; their removal happens only through the disconnect transition.
func (c *Coordinator) broadcast(ctx context.Context, sparkID, excludeUserID string, payload []byte) {
	defer c.Metrics.Timing(ctx, sparkcli.BroadcastTimeMetric, time.Now())

	c.Registry.ForEachInSession(sparkID, func(userID string, h Handle) {
		if excludeUserID != "" && userID == excludeUserID {
			return
		}
		if !h.Open() {
			return
		}
		if err := h.Send(payload); err != nil {
			c.Logger.Warn().Err(err).
				Str("spark_id", sparkID).
				Str("user_id", userID).
				Msg("dropping send to slow or closed handle")
			c.Metrics.Event(ctx, sparkcli.DroppedSendsMetric, map[sparkcli.DimensionName]string{sparkcli.SparkDimension: sparkID})
		}
	})
}

// sendTo replies to a single handle, ignoring delivery failure beyond a log
// line.
func (c *Coordinator) sendTo(h Handle, payload []byte) {
	if !h.Open() {
		return
	}
	if err := h.Send(payload); err != nil {
		c.Logger.Warn().Err(err).Msg("dropping unicast reply")
	}
}
