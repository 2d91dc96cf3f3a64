package core

// Default responder settings.
const (
	DefaultResponderIdentity = "Клубочки крючочки"
	DefaultResponderBody     = "Пока на доработке"
)

// Responder produces an automatic reply to messages landing in a room.
// Implementations must be pure: the Router persists and delivers the reply.
type Responder interface {
	// Identity is the synthetic sender name used for replies.
	Identity() string
	// Reply returns the reply body for incoming, or false for no reply.
	Reply(roomID int64, incoming Message) (string, bool)
}

// FixedResponder answers every human message with the same body.
type FixedResponder struct {
	Name string
	Body string
}

// NewFixedResponder returns a FixedResponder, falling back to the defaults for empty values.
func NewFixedResponder(identity, body string) FixedResponder {
	if identity == "" {
		identity = DefaultResponderIdentity
	}
	if body == "" {
		body = DefaultResponderBody
	}
	return FixedResponder{Name: identity, Body: body}
}

// Identity implements Responder.
func (f FixedResponder) Identity() string { return f.Name }

// Reply implements Responder. Its own messages never get a reply.
func (f FixedResponder) Reply(_ int64, incoming Message) (string, bool) {
	if incoming.From == f.Name {
		return "", false
	}
	return f.Body, true
}
