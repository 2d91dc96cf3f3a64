package core

import "sync"

// DefaultClientBuffer is the event buffer size used when none is configured.
const DefaultClientBuffer = 64

// Client is one live connection as seen by the core layer.
//
// Delivery never blocks: when Events is full the client is closed as a slow
// consumer, so it can reconnect and replay instead of silently missing messages.
type Client struct {
	ID       string
	Identity string
	Events   chan *Event

	mu     sync.Mutex
	room   int64
	joined bool
	// replayedThrough is the last message id sent in the latest history replay.
	replayedThrough int64

	done      chan struct{}
	closeOnce sync.Once
	slow      bool
}

// NewClient constructs a client with an initialized event buffer.
func NewClient(id, identity string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Room returns the room the client is subscribed to, if any.
func (c *Client) Room() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.joined
}

// InRoom reports whether the client is currently subscribed to roomID.
func (c *Client) InRoom(roomID int64) bool {
	room, ok := c.Room()
	return ok && room == roomID
}

// Stale reports whether ev should be skipped by the writer: a room message
// for a room the client has left, or one already covered by the latest replay.
func (c *Client) Stale(ev *Event) bool {
	if ev.Kind != EventRoomMessage {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined || c.room != ev.RoomID {
		return true
	}
	return ev.Message.ID <= c.replayedThrough
}

func (c *Client) setReplayed(lastID int64) {
	c.mu.Lock()
	c.replayedThrough = lastID
	c.mu.Unlock()
}

func (c *Client) setRoom(roomID int64, joined bool) {
	c.mu.Lock()
	c.room, c.joined = roomID, joined
	c.mu.Unlock()
}

// Deliver queues ev without blocking. It returns false if the client is closed
// or its buffer is full; in the latter case the client is closed as slow.
func (c *Client) Deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Events <- ev:
		return true
	default:
		c.close(true)
		return false
	}
}

// Done is closed once the client stops accepting events.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops delivery to the client. Safe to call more than once.
func (c *Client) Close() {
	c.close(false)
}

// Slow reports whether the client was closed because it fell behind.
func (c *Client) Slow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slow
}

func (c *Client) close(slow bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.slow = slow
		c.mu.Unlock()
		close(c.done)
	})
}
