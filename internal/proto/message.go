// Package proto defines the JSON envelopes exchanged over the WebSocket.
package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeJoin  = "join"
	InboundTypeLeave = "leave"
	InboundTypeMsg   = "msg"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameHistory = "history"
	EventNameMessage = "message"
)

// JoinData requests to join a specific room.
type JoinData struct {
	RoomID int64 `json:"room_id"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	RoomID int64  `json:"room_id"`
	Text   string `json:"text"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventMessage is a persisted chat message delivered to room subscribers.
type EventMessage struct {
	ID     int64  `json:"id"`
	RoomID int64  `json:"room_id"`
	User   string `json:"user"`
	Text   string `json:"text"`
	TS     int64  `json:"ts"`
}

// EventHistory replays a room log to a client that joined it.
type EventHistory struct {
	RoomID   int64          `json:"room_id"`
	Messages []EventMessage `json:"messages"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
