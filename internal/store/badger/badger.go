// Package badger implements store.Store on top of an embedded Badger key-value database.
//
// Keys are laid out so that prefix scans return records in their natural order:
//
//	user:{username}                      -> user record
//	room:{room_id:020d}                  -> room record
//	owner:{owner}\x00{room_id:020d}      -> empty (ownership index)
//	msg:{room_id:020d}:{message_id:020d} -> message record
//
// Ids come from Badger sequences, so they stay monotonic across restarts
// (leased ranges that were not used are skipped).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vovakirdan/roomchat/internal/store"
)

const (
	sequenceBandwidth = 128
	memoryPath        = ":memory:"
)

// BadgerStore implements store.Store for Badger.
type BadgerStore struct {
	db      *badger.DB
	userSeq *badger.Sequence
	roomSeq *badger.Sequence
	msgSeq  *badger.Sequence
	// appendMu keeps id order, timestamp order and commit order identical.
	appendMu sync.Mutex
	now      func() time.Time
}

// New opens (or creates) a Badger database in dir. ":memory:" opens an in-memory database.
func New(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == memoryPath {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	return Open(opts)
}

// Open opens a Badger database with explicit options.
func Open(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db, now: time.Now}
	sequences := []struct {
		key string
		dst **badger.Sequence
	}{
		{"seq:user", &s.userSeq},
		{"seq:room", &s.roomSeq},
		{"seq:msg", &s.msgSeq},
	}
	for _, sq := range sequences {
		seq, err := db.GetSequence([]byte(sq.key), sequenceBandwidth)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("get sequence %s: %w", sq.key, err)
		}
		*sq.dst = seq
	}

	return s, nil
}

// Close releases the sequences and closes the database.
func (s *BadgerStore) Close() error {
	var errs []error
	for _, seq := range []*badger.Sequence{s.userSeq, s.roomSeq, s.msgSeq} {
		if seq == nil {
			continue
		}
		if err := seq.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

type userRecord struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    int64  `json:"created_at"`
}

type roomRecord struct {
	ID        int64  `json:"id"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

type messageRecord struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

func userKey(username string) []byte { return []byte("user:" + username) }

func roomKey(id int64) []byte { return []byte(fmt.Sprintf("room:%020d", id)) }

func ownerPrefix(owner string) []byte { return []byte("owner:" + owner + "\x00") }

func ownerKey(owner string, id int64) []byte {
	return append(ownerPrefix(owner), fmt.Sprintf("%020d", id)...)
}

func messagePrefix(roomID int64) []byte { return []byte(fmt.Sprintf("msg:%020d:", roomID)) }

func messageKey(roomID, id int64) []byte {
	return append(messagePrefix(roomID), fmt.Sprintf("%020d", id)...)
}

func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// ==== UserStore implementation ====

// CreateUser stores a user unless the username is already taken.
func (s *BadgerStore) CreateUser(_ context.Context, username, passwordHash string) (*store.User, error) {
	rec := userRecord{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC().UnixNano(),
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(username)); err == nil {
			return fmt.Errorf("user %q: %w", username, store.ErrDuplicate)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		id, err := nextID(s.userSeq)
		if err != nil {
			return err
		}
		rec.ID = id
		return setJSON(txn, userKey(username), rec)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		return nil, store.Wrap("insert user", err)
	}

	return &store.User{
		ID:           rec.ID,
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    fromNanos(rec.CreatedAt),
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *BadgerStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	var rec userRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(username), &rec)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, store.Wrap("query user", err)
	}

	return &store.User{
		ID:           rec.ID,
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    fromNanos(rec.CreatedAt),
	}, nil
}

// ==== RoomStore implementation ====

// CreateRoom stores the room and its ownership index entry atomically.
func (s *BadgerStore) CreateRoom(_ context.Context, owner, name string) (*store.Room, error) {
	id, err := nextID(s.roomSeq)
	if err != nil {
		return nil, store.Wrap("next room id", err)
	}
	rec := roomRecord{ID: id, Owner: owner, Name: name, CreatedAt: s.now().UTC().UnixNano()}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, roomKey(id), rec); err != nil {
			return err
		}
		return txn.Set(ownerKey(owner, id), nil)
	})
	if err != nil {
		return nil, store.Wrap("insert room", err)
	}

	return toRoom(rec), nil
}

// GetRoomByID retrieves a room by ID.
func (s *BadgerStore) GetRoomByID(_ context.Context, id int64) (*store.Room, error) {
	var rec roomRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, roomKey(id), &rec)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, store.Wrap("query room", err)
	}
	return toRoom(rec), nil
}

// ListRoomsByOwner walks the ownership index in id order.
func (s *BadgerStore) ListRoomsByOwner(_ context.Context, owner string) ([]*store.Room, error) {
	rooms := make([]*store.Room, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := ownerPrefix(owner)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := strconv.ParseInt(string(it.Item().Key()[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("parse owner index key: %w", err)
			}
			var rec roomRecord
			if err := getJSON(txn, roomKey(id), &rec); err != nil {
				return fmt.Errorf("room %d: %w", id, err)
			}
			rooms = append(rooms, toRoom(rec))
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("query rooms", err)
	}
	return rooms, nil
}

// ==== MessageStore implementation ====

// AppendMessage writes the message under msg:{room}:{id}.
func (s *BadgerStore) AppendMessage(_ context.Context, roomID int64, sender, body string) (*store.Message, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var rec messageRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(roomKey(roomID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("room %d: %w", roomID, store.ErrUnknownRoom)
			}
			return err
		}

		latest, err := latestTimestamp(txn, roomID)
		if err != nil {
			return err
		}
		createdAt := s.now().UTC().UnixNano()
		if latest > createdAt {
			createdAt = latest
		}

		id, err := nextID(s.msgSeq)
		if err != nil {
			return err
		}
		rec = messageRecord{ID: id, RoomID: roomID, Sender: sender, Body: body, CreatedAt: createdAt}
		return setJSON(txn, messageKey(roomID, id), rec)
	})
	if err != nil {
		return nil, store.Wrap("append message", err)
	}

	return toMessage(rec), nil
}

// ListMessages scans the room prefix; key order is persisted order.
func (s *BadgerStore) ListMessages(_ context.Context, roomID int64) ([]*store.Message, error) {
	messages := make([]*store.Message, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(roomID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			messages = append(messages, toMessage(rec))
		}
		return nil
	})
	if err != nil {
		return nil, store.Wrap("query messages", err)
	}
	return messages, nil
}

func latestTimestamp(txn *badger.Txn, roomID int64) (int64, error) {
	prefix := messagePrefix(roomID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xFF))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	var rec messageRecord
	if err := it.Item().Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	}); err != nil {
		return 0, err
	}
	return rec.CreatedAt, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

func toRoom(rec roomRecord) *store.Room {
	return &store.Room{ID: rec.ID, Owner: rec.Owner, Name: rec.Name, CreatedAt: fromNanos(rec.CreatedAt)}
}

func toMessage(rec messageRecord) *store.Message {
	return &store.Message{
		ID:        rec.ID,
		RoomID:    rec.RoomID,
		Sender:    rec.Sender,
		Body:      rec.Body,
		CreatedAt: fromNanos(rec.CreatedAt),
	}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
