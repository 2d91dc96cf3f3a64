package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryCreateRoomValidatesName(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	ctx := context.Background()

	for _, name := range []string{"", "   ", strings.Repeat("x", MaxRoomNameLength+1)} {
		_, err := reg.CreateRoom(ctx, "alice", name)
		require.ErrorIs(t, err, ErrBadRequest, "name %q", name)
	}

	room, err := reg.CreateRoom(ctx, "alice", "  general  ")
	require.NoError(t, err)
	require.Equal(t, "general", room.Name)
	require.Equal(t, "alice", room.Owner)
}

func TestRegistryListRoomsForIsOwnerScoped(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	ctx := context.Background()

	_, err := reg.CreateRoom(ctx, "alice", "a")
	require.NoError(t, err)
	_, err = reg.CreateRoom(ctx, "bob", "b")
	require.NoError(t, err)

	rooms, err := reg.ListRoomsFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "b", rooms[0].Name)
}

func TestRegistryRoomNotFound(t *testing.T) {
	reg := NewRegistry(newTestStore(t))

	_, err := reg.Room(context.Background(), 77)
	require.True(t, errors.Is(err, ErrInvalidRoom))
}

func TestRegistrySubscribeReplacesPrevious(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	c := NewClient("c", "alice", 1)

	reg.Subscribe(c, 1)
	reg.Subscribe(c, 2)

	require.Empty(t, reg.SubscribersOf(1))
	require.Equal(t, []*Client{c}, reg.SubscribersOf(2))
	require.True(t, c.InRoom(2))
	require.Equal(t, 1, reg.ActiveRooms())

	reg.Unsubscribe(c)
	reg.Unsubscribe(c)
	require.Empty(t, reg.SubscribersOf(2))
	require.Zero(t, reg.ActiveRooms())
}

func TestRegistrySubscribersSkipClosedClients(t *testing.T) {
	reg := NewRegistry(newTestStore(t))
	open := NewClient("open", "alice", 1)
	closed := NewClient("closed", "bob", 1)

	reg.Subscribe(open, 5)
	reg.Subscribe(closed, 5)
	closed.Close()

	require.Equal(t, []*Client{open}, reg.SubscribersOf(5))
}
