package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomchat/internal/store"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath, applies the schema and returns a store.
// maxOpenConns <= 0 falls back to a single connection, which in-memory databases require.
func New(dbPath string, maxOpenConns int) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, maxOpenConns, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs setup instead of the bundled schema.
// Useful for tests that need a broken or partial schema.
func NewWithSetup(dbPath string, maxOpenConns int, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if maxOpenConns <= 0 || dbPath == ":memory:" {
		maxOpenConns = 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	createdAt := s.now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, createdAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user %q: %w", username, store.ErrDuplicate)
		}
		return nil, store.Wrap("insert user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, store.Wrap("get last insert id", err)
	}

	return &store.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var (
		user      store.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, store.Wrap("query user", err)
	}
	user.CreatedAt = fromNanos(createdAt)

	return &user, nil
}

// ==== RoomStore implementation ====

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, owner, name string) (*store.Room, error) {
	createdAt := s.now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (owner, name, created_at) VALUES (?, ?, ?)`,
		owner, name, createdAt.UnixNano(),
	)
	if err != nil {
		return nil, store.Wrap("insert room", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, store.Wrap("get last insert id", err)
	}

	return &store.Room{ID: id, Owner: owner, Name: name, CreatedAt: createdAt}, nil
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	var (
		room      store.Room
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, created_at FROM rooms WHERE id = ?`,
		id,
	).Scan(&room.ID, &room.Owner, &room.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, store.Wrap("query room", err)
	}
	room.CreatedAt = fromNanos(createdAt)

	return &room, nil
}

// ListRoomsByOwner lists rooms owned by the given identity.
func (s *SQLiteStore) ListRoomsByOwner(ctx context.Context, owner string) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, created_at FROM rooms WHERE owner = ? ORDER BY id ASC`,
		owner,
	)
	if err != nil {
		return nil, store.Wrap("query rooms", err)
	}
	defer rows.Close()

	rooms := make([]*store.Room, 0)
	for rows.Next() {
		var (
			room      store.Room
			createdAt int64
		)
		if err := rows.Scan(&room.ID, &room.Owner, &room.Name, &createdAt); err != nil {
			return nil, store.Wrap("scan room", err)
		}
		room.CreatedAt = fromNanos(createdAt)
		rooms = append(rooms, &room)
	}

	return rooms, store.Wrap("iterate rooms", rows.Err())
}

// ==== MessageStore implementation ====

// AppendMessage persists a message inside a single transaction: the room check,
// the timestamp clamp and the insert all see the same snapshot.
func (s *SQLiteStore) AppendMessage(ctx context.Context, roomID int64, sender, body string) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.StorageError{Op: "append message", Err: fmt.Errorf("room %d: %w", roomID, store.ErrUnknownRoom)}
		}
		return nil, store.Wrap("check room", err)
	}

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE room_id = ?`, roomID).Scan(&latest)
	if err != nil {
		return nil, store.Wrap("query latest message", err)
	}

	createdAt := s.now().UTC().UnixNano()
	if latest.Valid && latest.Int64 > createdAt {
		createdAt = latest.Int64
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender, body, created_at) VALUES (?, ?, ?, ?)`,
		roomID, sender, body, createdAt,
	)
	if err != nil {
		return nil, store.Wrap("insert message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, store.Wrap("get last insert id", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Wrap("commit message", err)
	}

	return &store.Message{
		ID:        id,
		RoomID:    roomID,
		Sender:    sender,
		Body:      body,
		CreatedAt: fromNanos(createdAt),
	}, nil
}

// ListMessages returns the whole room log in persisted order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, store.Wrap("query messages", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var (
			msg       store.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Body, &createdAt); err != nil {
			return nil, store.Wrap("scan message", err)
		}
		msg.CreatedAt = fromNanos(createdAt)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Wrap("iterate messages", err)
	}
	return messages, nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
