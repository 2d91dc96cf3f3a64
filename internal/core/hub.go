package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/store"
)

// DefaultMaxBodyLength bounds message bodies, in runes.
const DefaultMaxBodyLength = 4000

// Hub is the entry point transports use: it tracks connected clients and runs
// join, leave and send on their behalf.
type Hub struct {
	registry      *Registry
	router        *Router
	messages      store.MessageStore
	maxBodyLength int
	log           *zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// HubOptions configures optional Hub behaviour.
type HubOptions struct {
	// Responder replies to human messages. Nil disables replies.
	Responder Responder
	// MaxBodyLength limits message bodies in runes; zero means DefaultMaxBodyLength.
	MaxBodyLength int
	Logger        *zerolog.Logger
}

// NewHub creates a hub over st.
func NewHub(st store.Store, opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	maxBody := opts.MaxBodyLength
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyLength
	}

	registry := NewRegistry(st)
	return &Hub{
		registry:      registry,
		router:        NewRouter(registry, st, opts.Responder, logger),
		messages:      st,
		maxBodyLength: maxBody,
		log:           logger,
		clients:       make(map[*Client]struct{}),
	}
}

// Registry exposes the room registry for room listing and creation.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run blocks until ctx is done, then closes every connected client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.UnregisterClient(c)
	}
	h.log.Info().Int("clients", len(clients)).Msg("hub stopped")
}

// RegisterClient records a newly connected client.
func (h *Hub) RegisterClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client_id", c.ID).Str("identity", c.Identity).Int("clients", total).Msg("client registered")
}

// UnregisterClient drops the client's subscription and stops delivery to it.
func (h *Hub) UnregisterClient(c *Client) {
	h.registry.Unsubscribe(c)
	c.Close()

	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("client_id", c.ID).Int("clients", total).Msg("client unregistered")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handle executes a client command.
func (h *Hub) Handle(ctx context.Context, c *Client, cmd Command) error {
	switch cmd.Kind {
	case CommandJoinRoom:
		return h.Join(ctx, c, cmd.RoomID)
	case CommandLeaveRoom:
		h.Leave(c)
		return nil
	case CommandSendRoomMessage:
		_, err := h.Send(ctx, cmd.RoomID, c.Identity, cmd.Text)
		return err
	default:
		return fmt.Errorf("unknown command %d: %w", cmd.Kind, ErrBadRequest)
	}
}

// Join replays the room log to c and then subscribes it. Both happen under
// the room lock, so c sees every message exactly once.
func (h *Hub) Join(ctx context.Context, c *Client, roomID int64) error {
	if _, err := h.registry.Room(ctx, roomID); err != nil {
		return err
	}

	return h.router.withRoom(roomID, func() error {
		history, err := h.messages.ListMessages(ctx, roomID)
		if err != nil {
			return fmt.Errorf("replay room %d: %w", roomID, err)
		}

		messages := make([]Message, 0, len(history))
		for _, m := range history {
			messages = append(messages, messageFromStore(m))
		}

		// Leave the previous room first so its traffic stops before the replay.
		h.registry.Unsubscribe(c)
		if !c.Deliver(&Event{Kind: EventHistory, RoomID: roomID, Messages: messages}) {
			return fmt.Errorf("client %s is not accepting events", c.ID)
		}
		// Live messages still queued from an earlier join are in this replay.
		var lastID int64
		if n := len(messages); n > 0 {
			lastID = messages[n-1].ID
		}
		c.setReplayed(lastID)
		h.registry.Subscribe(c, roomID)

		h.log.Debug().Str("client_id", c.ID).Int64("room_id", roomID).Int("replayed", len(messages)).Msg("client joined room")
		return nil
	})
}

// Leave unsubscribes c from its current room, if any.
func (h *Hub) Leave(c *Client) {
	h.registry.Unsubscribe(c)
}

// History returns the persisted log of a room. Unknown rooms yield an empty log.
func (h *Hub) History(ctx context.Context, roomID int64) ([]Message, error) {
	history, err := h.messages.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, messageFromStore(m))
	}
	return messages, nil
}

// Send validates the room and then the body, and routes the message with
// identity as its sender. An unknown room wins over a bad body.
func (h *Hub) Send(ctx context.Context, roomID int64, identity, body string) (*Message, error) {
	if _, err := h.registry.Room(ctx, roomID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("message text is empty: %w", ErrBadRequest)
	}
	if utf8.RuneCountInString(body) > h.maxBodyLength {
		return nil, fmt.Errorf("message text exceeds %d characters: %w", h.maxBodyLength, ErrBadRequest)
	}
	return h.router.Send(ctx, roomID, identity, body)
}
