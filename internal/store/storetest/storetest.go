// Package storetest holds behaviour checks every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomchat/internal/store"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"CreateUserRejectsDuplicate", testCreateUserRejectsDuplicate},
		{"GetUserByUsernameNotFound", testGetUserNotFound},
		{"CreateRoomAssignsIncreasingIDs", testCreateRoomAssignsIncreasingIDs},
		{"ListRoomsByOwnerScopesToOwner", testListRoomsByOwner},
		{"GetRoomByIDNotFound", testGetRoomNotFound},
		{"AppendAndListPreservesOrder", testAppendAndList},
		{"AppendToUnknownRoomIsStorageError", testAppendUnknownRoom},
		{"ListMessagesEmptyRoom", testListEmpty},
		{"ListMessagesIsolatesRooms", testListIsolatesRooms},
		{"ConcurrentAppendsKeepTotalOrder", testConcurrentAppends},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStore(t)
			t.Cleanup(func() { _ = st.Close() })
			tt.fn(t, st)
		})
	}
}

func testCreateUserRejectsDuplicate(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	user, err := st.CreateUser(ctx, "alice", "hash")
	req.NoError(err)
	req.Equal("alice", user.Username)
	req.NotZero(user.ID)

	_, err = st.CreateUser(ctx, "alice", "other")
	req.ErrorIs(err, store.ErrDuplicate)

	got, err := st.GetUserByUsername(ctx, "alice")
	req.NoError(err)
	req.Equal(user.ID, got.ID)
	req.Equal("hash", got.PasswordHash)
}

func testGetUserNotFound(t *testing.T, st store.Store) {
	_, err := st.GetUserByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testCreateRoomAssignsIncreasingIDs(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	first, err := st.CreateRoom(ctx, "alice", "one")
	req.NoError(err)
	second, err := st.CreateRoom(ctx, "alice", "one")
	req.NoError(err)
	req.Greater(second.ID, first.ID)

	got, err := st.GetRoomByID(ctx, first.ID)
	req.NoError(err)
	req.Equal("alice", got.Owner)
	req.Equal("one", got.Name)
}

func testListRoomsByOwner(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	a1, err := st.CreateRoom(ctx, "alice", "a1")
	req.NoError(err)
	_, err = st.CreateRoom(ctx, "bob", "b1")
	req.NoError(err)
	a2, err := st.CreateRoom(ctx, "alice", "a2")
	req.NoError(err)

	rooms, err := st.ListRoomsByOwner(ctx, "alice")
	req.NoError(err)
	req.Len(rooms, 2)
	req.Equal(a1.ID, rooms[0].ID)
	req.Equal(a2.ID, rooms[1].ID)

	none, err := st.ListRoomsByOwner(ctx, "carol")
	req.NoError(err)
	req.NotNil(none)
	req.Empty(none)
}

func testGetRoomNotFound(t *testing.T, st store.Store) {
	_, err := st.GetRoomByID(context.Background(), 9999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAppendAndList(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	room, err := st.CreateRoom(ctx, "alice", "general")
	req.NoError(err)

	first, err := st.AppendMessage(ctx, room.ID, "alice", "hi")
	req.NoError(err)
	second, err := st.AppendMessage(ctx, room.ID, "bob", "hello")
	req.NoError(err)

	req.Greater(second.ID, first.ID)
	req.False(second.CreatedAt.Before(first.CreatedAt))
	req.Equal(room.ID, first.RoomID)

	messages, err := st.ListMessages(ctx, room.ID)
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal(first.ID, messages[0].ID)
	req.Equal("alice", messages[0].Sender)
	req.Equal("hi", messages[0].Body)
	req.Equal(second.ID, messages[1].ID)
	req.True(first.CreatedAt.Equal(messages[0].CreatedAt))
}

func testAppendUnknownRoom(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	_, err := st.AppendMessage(ctx, 9999, "alice", "hi")
	req.Error(err)

	var se *store.StorageError
	req.True(errors.As(err, &se), "expected StorageError, got %T", err)
	req.ErrorIs(err, store.ErrUnknownRoom)

	messages, err := st.ListMessages(ctx, 9999)
	req.NoError(err)
	req.Empty(messages)
}

func testListEmpty(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	room, err := st.CreateRoom(ctx, "alice", "quiet")
	req.NoError(err)

	messages, err := st.ListMessages(ctx, room.ID)
	req.NoError(err)
	req.NotNil(messages)
	req.Empty(messages)
}

func testListIsolatesRooms(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	r1, err := st.CreateRoom(ctx, "alice", "r1")
	req.NoError(err)
	r2, err := st.CreateRoom(ctx, "alice", "r2")
	req.NoError(err)

	_, err = st.AppendMessage(ctx, r1.ID, "alice", "to r1")
	req.NoError(err)
	_, err = st.AppendMessage(ctx, r2.ID, "alice", "to r2")
	req.NoError(err)

	messages, err := st.ListMessages(ctx, r2.ID)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("to r2", messages[0].Body)
}

func testConcurrentAppends(t *testing.T, st store.Store) {
	req := require.New(t)
	ctx := context.Background()

	room, err := st.CreateRoom(ctx, "alice", "busy")
	req.NoError(err)

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				if _, err := st.AppendMessage(ctx, room.ID, fmt.Sprintf("w%d", w), fmt.Sprintf("m%d", i)); err != nil {
					errCh <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		req.NoError(err)
	}

	messages, err := st.ListMessages(ctx, room.ID)
	req.NoError(err)
	req.Len(messages, writers*perWriter)
	for i := 1; i < len(messages); i++ {
		req.Greater(messages[i].ID, messages[i-1].ID)
		req.False(messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
	}
}
