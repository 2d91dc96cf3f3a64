package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendRoomMessage persists a chat message and delivers it to room subscribers.
	CommandSendRoomMessage CommandKind = iota
	// CommandJoinRoom replays the room history and subscribes the client to it.
	CommandJoinRoom
	// CommandLeaveRoom drops the client's subscription.
	CommandLeaveRoom
)

// Command represents an action requested by a client.
type Command struct {
	Kind   CommandKind
	RoomID int64
	Text   string
}
