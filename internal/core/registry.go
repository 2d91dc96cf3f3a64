package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/vovakirdan/roomchat/internal/store"
)

// MaxRoomNameLength bounds room display names, in runes.
const MaxRoomNameLength = 64

// Registry maps room ids to their metadata (through the store) and to the
// set of clients currently subscribed to them.
type Registry struct {
	store store.RoomStore

	mu       sync.RWMutex
	rooms    map[int64]*Room
	byClient map[*Client]int64
}

// NewRegistry creates a registry backed by st.
func NewRegistry(st store.RoomStore) *Registry {
	return &Registry{
		store:    st,
		rooms:    make(map[int64]*Room),
		byClient: make(map[*Client]int64),
	}
}

// CreateRoom persists a new room owned by owner.
func (r *Registry) CreateRoom(ctx context.Context, owner, name string) (*store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoomNameLength {
		return nil, fmt.Errorf("room name must be 1-%d characters: %w", MaxRoomNameLength, ErrBadRequest)
	}
	room, err := r.store.CreateRoom(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// ListRoomsFor returns the rooms owned by identity.
func (r *Registry) ListRoomsFor(ctx context.Context, identity string) ([]*store.Room, error) {
	rooms, err := r.store.ListRoomsByOwner(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// Room looks up a room, returning ErrInvalidRoom when it does not exist.
func (r *Registry) Room(ctx context.Context, id int64) (*store.Room, error) {
	room, err := r.store.GetRoomByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("room %d: %w", id, ErrInvalidRoom)
		}
		return nil, err
	}
	return room, nil
}

// Subscribe registers c as a live listener of roomID, replacing any previous subscription.
func (r *Registry) Subscribe(c *Client, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c)

	room, ok := r.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		r.rooms[roomID] = room
	}
	room.AddClient(c)
	r.byClient[c] = roomID
	c.setRoom(roomID, true)
}

// Unsubscribe removes c from whatever room it listens to. Idempotent.
func (r *Registry) Unsubscribe(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c)
}

func (r *Registry) removeLocked(c *Client) {
	roomID, ok := r.byClient[c]
	if !ok {
		return
	}
	delete(r.byClient, c)
	c.setRoom(0, false)

	if room, exists := r.rooms[roomID]; exists {
		room.RemoveClient(c)
		if room.Empty() {
			delete(r.rooms, roomID)
		}
	}
}

// SubscribersOf returns the clients subscribed to roomID at the time of the call.
func (r *Registry) SubscribersOf(roomID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return lo.Filter(room.Clients(), func(c *Client, _ int) bool {
		select {
		case <-c.Done():
			return false
		default:
			return true
		}
	})
}

// ActiveRooms returns the number of rooms with at least one subscriber.
func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
