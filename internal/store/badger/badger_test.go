package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomchat/internal/store"
	"github.com/vovakirdan/roomchat/internal/store/storetest"
)

func TestStoreContractInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := New(":memory:")
		require.NoError(t, err)
		return st
	})
}

func TestStoreContractOnDisk(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, err := New(t.TempDir())
		require.NoError(t, err)
		return st
	})
}

func TestIDsStayMonotonicAfterReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	st, err := New(dir)
	req.NoError(err)
	room, err := st.CreateRoom(ctx, "alice", "general")
	req.NoError(err)
	first, err := st.AppendMessage(ctx, room.ID, "alice", "before restart")
	req.NoError(err)
	req.NoError(st.Close())

	st, err = New(dir)
	req.NoError(err)
	defer st.Close()

	second, err := st.AppendMessage(ctx, room.ID, "alice", "after restart")
	req.NoError(err)
	req.Greater(second.ID, first.ID)

	messages, err := st.ListMessages(ctx, room.ID)
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal("before restart", messages[0].Body)
	req.Equal("after restart", messages[1].Body)

	otherRoom, err := st.CreateRoom(ctx, "alice", "second")
	req.NoError(err)
	req.Greater(otherRoom.ID, room.ID)
}

func TestAppendClampsBackwardsClock(t *testing.T) {
	req := require.New(t)
	st, err := New(":memory:")
	req.NoError(err)
	defer st.Close()
	ctx := context.Background()

	room, err := st.CreateRoom(ctx, "alice", "general")
	req.NoError(err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	first, err := st.AppendMessage(ctx, room.ID, "alice", "first")
	req.NoError(err)

	st.now = func() time.Time { return base.Add(-time.Hour) }
	second, err := st.AppendMessage(ctx, room.ID, "alice", "second")
	req.NoError(err)
	req.True(second.CreatedAt.Equal(first.CreatedAt))
}
