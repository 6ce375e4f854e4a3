package sparkws

import (
	"encoding/json"
	"fmt"
)

// Inbound control message types
const (
	MsgJoin               = "join"
	MsgLocation           = "location"
	MsgSync               = "sync"
	MsgFlash              = "flash"
	MsgStartConstantBlink = "start_constant_blink"
	MsgStopConstantBlink  = "stop_constant_blink"
	MsgDisconnect         = "disconnect"
)

// Outbound event types
const (
	EventJoined                   = "joined"
	EventUserJoined               = "user_joined"
	EventUserLeft                 = "user_left"
	EventLocationUpdate           = "location_update"
	EventSyncSignal               = "sync_signal"
	EventFlashSignal              = "flash_signal"
	EventStartConstantBlinkSignal = "start_constant_blink_signal"
	EventStopConstantBlinkSignal  = "stop_constant_blink_signal"
	EventError                    = "error"
)

// DefaultFlashColor is used when a spark record carries no color.
const DefaultFlashColor = "#FFB800"

// Message is an inbound control message. Exactly one message kind is active
// per message, discriminated by Type; ParseMessage enforces the fields each
// kind requires.
type Message struct {
	Type         string   `json:"type"`
	SparkID      string   `json:"sparkId,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Timestamp    int64    `json:"timestamp,omitempty"`
	Synchronized bool     `json:"synchronized,omitempty"`
}

// ParseMessage parses and validates an inbound control message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case MsgJoin:
		if msg.SparkID == "" || msg.UserID == "" {
			return nil, fmt.Errorf("join requires sparkId and userId")
		}
	case MsgLocation:
		if msg.Latitude == nil || msg.Longitude == nil {
			return nil, fmt.Errorf("location requires latitude and longitude")
		}
	case MsgSync, MsgFlash, MsgStartConstantBlink, MsgStopConstantBlink, MsgDisconnect:
	case "":
		return nil, fmt.Errorf("missing message type")
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// UserPosition is one member's last known location, carried inside
// location_update events.
type UserPosition struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type event struct {
	Type         string         `json:"type"`
	SparkID      string         `json:"sparkId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	Connections  *int           `json:"connections,omitempty"`
	Latitude     *float64       `json:"latitude,omitempty"`
	Longitude    *float64       `json:"longitude,omitempty"`
	OtherUsers   []UserPosition `json:"otherUsers,omitempty"`
	Timestamp    *int64         `json:"timestamp,omitempty"`
	Color        string         `json:"color,omitempty"`
	FromUser     string         `json:"fromUser,omitempty"`
	Synchronized *bool          `json:"synchronized,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// JoinedMessage acknowledges a successful join to the joining handle.
func JoinedMessage(sparkID string, connections int) []byte {
	b, _ := json.Marshal(event{Type: EventJoined, SparkID: sparkID, Connections: &connections})
	return b
}

// UserJoinedMessage notifies existing members that a user attached.
func UserJoinedMessage(userID string, connections int) []byte {
	b, _ := json.Marshal(event{Type: EventUserJoined, UserID: userID, Connections: &connections})
	return b
}

// UserLeftMessage notifies remaining members that a user detached.
func UserLeftMessage(userID string, connections int) []byte {
	b, _ := json.Marshal(event{Type: EventUserLeft, UserID: userID, Connections: &connections})
	return b
}

// LocationUpdateMessage carries the sender's new position plus every known
// member position in the spark.
func LocationUpdateMessage(userID string, latitude, longitude float64, otherUsers []UserPosition) []byte {
	b, _ := json.Marshal(event{
		Type:       EventLocationUpdate,
		UserID:     userID,
		Latitude:   &latitude,
		Longitude:  &longitude,
		OtherUsers: otherUsers,
	})
	return b
}

// SyncSignalMessage propagates a synchronization pulse to all members.
func SyncSignalMessage(timestamp int64, fromUser string) []byte {
	b, _ := json.Marshal(event{Type: EventSyncSignal, Timestamp: &timestamp, FromUser: fromUser})
	return b
}

// FlashSignalMessage propagates a flash with the spark's shared color.
func FlashSignalMessage(timestamp int64, color, fromUser string, synchronized bool) []byte {
	b, _ := json.Marshal(event{
		Type:         EventFlashSignal,
		Timestamp:    &timestamp,
		Color:        color,
		FromUser:     fromUser,
		Synchronized: &synchronized,
	})
	return b
}

// StartConstantBlinkSignalMessage propagates the start of a constant blink.
func StartConstantBlinkSignalMessage(timestamp int64, color, fromUser string) []byte {
	b, _ := json.Marshal(event{Type: EventStartConstantBlinkSignal, Timestamp: &timestamp, Color: color, FromUser: fromUser})
	return b
}

// StopConstantBlinkSignalMessage propagates the end of a constant blink.
func StopConstantBlinkSignalMessage(timestamp int64, fromUser string) []byte {
	b, _ := json.Marshal(event{Type: EventStopConstantBlinkSignal, Timestamp: &timestamp, FromUser: fromUser})
	return b
}

// ErrorMessage is a unicast error reply to the originating handle.
func ErrorMessage(message string) []byte {
	b, _ := json.Marshal(event{Type: EventError, Message: message})
	return b
}
