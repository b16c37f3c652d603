package chat

import (
	"encoding/json"
	"time"
)

// Frame type tags exchanged on the socket.
const (
	FrameMessage    = "message"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameTyping     = "typing"
	FrameUserJoined = "user_joined"
	FrameUserLeft   = "user_left"
	FrameError      = "error"
)

// Timestamp renders a server timestamp in the wire format (ISO-8601, UTC).
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// inboundFrame is the loose decoding target for client frames. Unknown fields
// are ignored by encoding/json; the router dispatches on Type.
type inboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	IsTyping  bool   `json:"is_typing"`
}

// MessageFrame is the normalized outbound chat message.
type MessageFrame struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id"`
	SenderID   string `json:"sender_id"`
	SenderType Role   `json:"sender_type"`
	MessageID  string `json:"message_id"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// TypingFrame is the outbound typing indicator.
type TypingFrame struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id"`
	SenderID   string `json:"sender_id"`
	SenderType Role   `json:"sender_type"`
	IsTyping   bool   `json:"is_typing"`
	Timestamp  string `json:"timestamp"`
}

// PingFrame is the outbound heartbeat probe.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// PresenceFrame announces a member joining or leaving a thread room. UserType
// is only populated for joins.
type PresenceFrame struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id"`
	UserType  Role   `json:"user_type,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ErrorFrame reports a per-frame failure back to the originating socket.
type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func encodePing(now time.Time) []byte {
	return mustMarshal(PingFrame{Type: FramePing, Timestamp: Timestamp(now)})
}

func encodeError(message string, now time.Time) []byte {
	return mustMarshal(ErrorFrame{Type: FrameError, Message: message, Timestamp: Timestamp(now)})
}

func encodeUserJoined(threadID, userID string, role Role, now time.Time) []byte {
	return mustMarshal(PresenceFrame{
		Type:      FrameUserJoined,
		ThreadID:  threadID,
		UserID:    userID,
		UserType:  role,
		Timestamp: Timestamp(now),
	})
}

func encodeUserLeft(threadID, userID string, now time.Time) []byte {
	return mustMarshal(PresenceFrame{
		Type:      FrameUserLeft,
		ThreadID:  threadID,
		UserID:    userID,
		Timestamp: Timestamp(now),
	})
}

// mustMarshal encodes outbound frames built entirely from marshalable values.
func mustMarshal(frame any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}
	return data
}
