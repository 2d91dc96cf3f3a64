package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat/internal/store"
	"github.com/vovakirdan/roomchat/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:", 1)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestHub(t *testing.T, st store.Store) *Hub {
	t.Helper()
	return NewHub(st, HubOptions{Responder: NewFixedResponder("", "")})
}

func mustCreateRoom(t *testing.T, st store.Store, owner, name string) *store.Room {
	t.Helper()

	room, err := st.CreateRoom(context.Background(), owner, name)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

// flakyStore rejects appends when told to.
type flakyStore struct {
	store.Store
	failAll     atomic.Bool
	failForUser atomic.Value // string
}

func (f *flakyStore) AppendMessage(ctx context.Context, roomID int64, sender, body string) (*store.Message, error) {
	if f.failAll.Load() {
		return nil, &store.StorageError{Op: "append message", Err: context.DeadlineExceeded}
	}
	if who, _ := f.failForUser.Load().(string); who != "" && who == sender {
		return nil, &store.StorageError{Op: "append message", Err: context.DeadlineExceeded}
	}
	return f.Store.AppendMessage(ctx, roomID, sender, body)
}
