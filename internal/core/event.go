package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies clients about a persisted chat message in a room.
	EventRoomMessage EventKind = iota
	// EventHistory delivers the room log to a client upon joining a room.
	EventHistory
	// EventError notifies a client about a rejected command.
	EventError
)

// Event is sent to clients to describe what happened in the system.
// Events are shared between recipients and must not be modified after delivery.
type Event struct {
	Kind     EventKind
	RoomID   int64
	Message  Message
	Messages []Message // For EventHistory
	Error    *CoreError
}
