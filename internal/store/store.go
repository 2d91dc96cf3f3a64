package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate")
	// ErrUnknownRoom is wrapped into a StorageError when a message targets a missing room.
	ErrUnknownRoom = errors.New("unknown room")
)

// StorageError reports a rejected read or write in the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap builds a StorageError for op, or returns nil when err is nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// User represents a registered user.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Room represents a chat room.
type Room struct {
	ID        int64
	Owner     string
	Name      string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	Sender    string
	Body      string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user. Returns ErrDuplicate if the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername retrieves a user by username. Returns ErrNotFound if missing.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room owned by owner.
	CreateRoom(ctx context.Context, owner, name string) (*Room, error)

	// GetRoomByID retrieves a room by ID. Returns ErrNotFound if missing.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// ListRoomsByOwner lists rooms owned by owner in ascending id order.
	ListRoomsByOwner(ctx context.Context, owner string) ([]*Room, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	// AppendMessage assigns id and timestamp, persists the message and returns it.
	// The timestamp is never earlier than the latest message already in the room.
	AppendMessage(ctx context.Context, roomID int64, sender, body string) (*Message, error)

	// ListMessages returns every message of the room ordered by (created_at, id).
	// Unknown rooms yield an empty slice.
	ListMessages(ctx context.Context, roomID int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// Close releases the underlying database.
	Close() error
}
