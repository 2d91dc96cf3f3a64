package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomchat/internal/store"
)

func TestHubSendPersistsAndRepliesInOrder(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()

	room, err := hub.Registry().CreateRoom(ctx, "alice", "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	alice := NewClient("a", "alice", 8)
	hub.RegisterClient(alice)
	if err := hub.Join(ctx, alice, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	history := mustEvent(t, alice.Events, EventHistory)
	if len(history.Messages) != 0 {
		t.Fatalf("expected empty history, got %+v", history.Messages)
	}

	if _, err := hub.Send(ctx, room.ID, "alice", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	first := mustEvent(t, alice.Events, EventRoomMessage)
	second := mustEvent(t, alice.Events, EventRoomMessage)
	if first.Message.From != "alice" || first.Message.Text != "hi" {
		t.Fatalf("unexpected first message: %+v", first.Message)
	}
	if second.Message.From != DefaultResponderIdentity || second.Message.Text != DefaultResponderBody {
		t.Fatalf("unexpected reply: %+v", second.Message)
	}

	stored, err := st.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(stored))
	}
	if stored[0].Sender != "alice" || stored[0].Body != "hi" ||
		stored[1].Sender != "Клубочки крючочки" || stored[1].Body != "Пока на доработке" {
		t.Fatalf("unexpected log: %+v %+v", stored[0], stored[1])
	}
	if stored[0].ID != first.Message.ID || stored[1].ID != second.Message.ID {
		t.Fatalf("delivered ids do not match persisted ids")
	}

	// A late joiner replays the identical history.
	bob := NewClient("b", "bob", 8)
	hub.RegisterClient(bob)
	if err := hub.Join(ctx, bob, room.ID); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	replay := mustEvent(t, bob.Events, EventHistory)
	if len(replay.Messages) != 2 ||
		replay.Messages[0].ID != stored[0].ID || replay.Messages[1].ID != stored[1].ID {
		t.Fatalf("unexpected replay: %+v", replay.Messages)
	}
}

func TestHubSendToUnknownRoom(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()

	if _, err := hub.Send(ctx, 9999, "alice", "hi"); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
	if _, err := hub.Send(ctx, 9999, "alice", "   "); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("unknown room must win over an empty body, got %v", err)
	}

	messages, err := hub.History(ctx, 9999)
	if err != nil {
		t.Fatalf("expected empty history, got error %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %+v", messages)
	}
}

func TestHubJoinUnknownRoom(t *testing.T) {
	hub := newTestHub(t, newTestStore(t))

	c := NewClient("a", "alice", 8)
	hub.RegisterClient(c)
	if err := hub.Join(context.Background(), c, 42); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
	if _, ok := c.Room(); ok {
		t.Fatalf("client must not be subscribed after failed join")
	}
}

func TestHubRejectsBadBodies(t *testing.T) {
	st := newTestStore(t)
	hub := NewHub(st, HubOptions{MaxBodyLength: 5})
	room := mustCreateRoom(t, st, "alice", "general")
	ctx := context.Background()

	for _, body := range []string{"", "   ", "123456"} {
		if _, err := hub.Send(ctx, room.ID, "alice", body); !errors.Is(err, ErrBadRequest) {
			t.Fatalf("body %q: expected ErrBadRequest, got %v", body, err)
		}
	}
	// Five runes of Cyrillic are within the limit even though they are ten bytes.
	if _, err := hub.Send(ctx, room.ID, "alice", "привет"[:10]); err != nil {
		t.Fatalf("expected rune-counted limit, got %v", err)
	}
}

func TestHubStorageFailureSkipsBroadcastAndReply(t *testing.T) {
	flaky := &flakyStore{Store: newTestStore(t)}
	hub := newTestHub(t, flaky)
	ctx := context.Background()
	room := mustCreateRoom(t, flaky, "alice", "general")

	watcher := NewClient("w", "watcher", 8)
	hub.RegisterClient(watcher)
	if err := hub.Join(ctx, watcher, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustEvent(t, watcher.Events, EventHistory)

	flaky.failAll.Store(true)
	_, err := hub.Send(ctx, room.ID, "alice", "lost")
	var se *store.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	mustNoEvent(t, watcher.Events)

	flaky.failAll.Store(false)
	messages, err := flaky.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected nothing persisted, got %+v", messages)
	}
}

func TestHubReplyFailureKeepsHumanMessage(t *testing.T) {
	flaky := &flakyStore{Store: newTestStore(t)}
	flaky.failForUser.Store(DefaultResponderIdentity)
	hub := newTestHub(t, flaky)
	ctx := context.Background()
	room := mustCreateRoom(t, flaky, "alice", "general")

	msg, err := hub.Send(ctx, room.ID, "alice", "hi")
	if err == nil {
		t.Fatalf("expected reply error")
	}
	var se *store.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected wrapped StorageError, got %v", err)
	}
	if msg == nil || msg.Text != "hi" {
		t.Fatalf("expected stored human message, got %+v", msg)
	}
}

func TestHubSendAfterCancelStoresNothing(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	room := mustCreateRoom(t, st, "alice", "general")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := hub.Send(ctx, room.ID, "alice", "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	messages, err := st.ListMessages(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}

func TestHubFanOutIsRoomScoped(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	general := mustCreateRoom(t, st, "alice", "general")
	random := mustCreateRoom(t, st, "alice", "random")

	inGeneral := NewClient("g", "alice", 8)
	inRandom := NewClient("r", "bob", 8)
	hub.RegisterClient(inGeneral)
	hub.RegisterClient(inRandom)
	if err := hub.Join(ctx, inGeneral, general.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := hub.Join(ctx, inRandom, random.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustEvent(t, inGeneral.Events, EventHistory)
	mustEvent(t, inRandom.Events, EventHistory)

	if _, err := hub.Send(ctx, general.ID, "alice", "only general"); err != nil {
		t.Fatalf("send: %v", err)
	}
	mustEvent(t, inGeneral.Events, EventRoomMessage)
	mustNoEvent(t, inRandom.Events)
}

func TestHubSwitchingRoomsMovesSubscription(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	first := mustCreateRoom(t, st, "alice", "first")
	second := mustCreateRoom(t, st, "alice", "second")

	c := NewClient("c", "alice", 16)
	hub.RegisterClient(c)
	if err := hub.Join(ctx, c, first.ID); err != nil {
		t.Fatalf("join first: %v", err)
	}
	if err := hub.Join(ctx, c, second.ID); err != nil {
		t.Fatalf("join second: %v", err)
	}
	if !c.InRoom(second.ID) {
		t.Fatalf("expected subscription to second room")
	}
	if !c.Stale(&Event{Kind: EventRoomMessage, RoomID: first.ID, Message: Message{ID: 1}}) {
		t.Fatalf("messages for the room the client left must be stale")
	}
	if subs := hub.Registry().SubscribersOf(first.ID); len(subs) != 0 {
		t.Fatalf("expected no subscribers left in first room, got %d", len(subs))
	}

	hub.Leave(c)
	hub.Leave(c)
	if _, ok := c.Room(); ok {
		t.Fatalf("expected no subscription after leave")
	}
}

func TestHubConcurrentSendersShareOneOrder(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	room := mustCreateRoom(t, st, "alice", "busy")

	const senders, perSender = 5, 20
	const total = senders * perSender * 2 // every message gets a reply

	watchers := []*Client{NewClient("w1", "w1", total+1), NewClient("w2", "w2", total+1)}
	for _, w := range watchers {
		hub.RegisterClient(w)
		if err := hub.Join(ctx, w, room.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
		mustEvent(t, w.Events, EventHistory)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, senders*perSender)
	for s := range senders {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := range perSender {
				if _, err := hub.Send(ctx, room.ID, fmt.Sprintf("user%d", s), fmt.Sprintf("msg %d", i)); err != nil {
					errCh <- err
				}
			}
		}(s)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("send: %v", err)
	}

	stored, err := st.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != total {
		t.Fatalf("expected %d stored messages, got %d", total, len(stored))
	}
	for i := 0; i < len(stored); i += 2 {
		if stored[i].Sender == DefaultResponderIdentity || stored[i+1].Sender != DefaultResponderIdentity {
			t.Fatalf("reply does not directly follow message at %d: %q then %q", i, stored[i].Sender, stored[i+1].Sender)
		}
	}

	for _, w := range watchers {
		for i := range total {
			select {
			case ev := <-w.Events:
				if ev.Message.ID != stored[i].ID {
					t.Fatalf("%s: position %d got id %d, want %d", w.ID, i, ev.Message.ID, stored[i].ID)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("%s: missing event %d", w.ID, i)
			}
		}
	}
}

func TestHubJoinDuringSendsSeesEveryMessageOnce(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	room := mustCreateRoom(t, st, "alice", "busy")

	const senders, perSender = 4, 30
	const total = senders * perSender * 2

	started := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	errCh := make(chan error, senders*perSender)
	for s := range senders {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := range perSender {
				if _, err := hub.Send(ctx, room.ID, fmt.Sprintf("user%d", s), fmt.Sprintf("msg %d", i)); err != nil {
					errCh <- err
				}
				if i == 5 {
					once.Do(func() { close(started) })
				}
			}
		}(s)
	}

	<-started
	late := NewClient("late", "late", total+1)
	hub.RegisterClient(late)
	if err := hub.Join(ctx, late, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("send: %v", err)
	}

	stored, err := st.ListMessages(ctx, room.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stored) != total {
		t.Fatalf("expected %d stored messages, got %d", total, len(stored))
	}

	history := mustEvent(t, late.Events, EventHistory)
	seen := make([]int64, 0, total)
	for _, m := range history.Messages {
		seen = append(seen, m.ID)
	}
	for len(seen) < total {
		select {
		case ev := <-late.Events:
			if ev.Kind != EventRoomMessage {
				t.Fatalf("unexpected event kind %v", ev.Kind)
			}
			seen = append(seen, ev.Message.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d messages", len(seen), total)
		}
	}
	mustNoEvent(t, late.Events)

	for i, m := range stored {
		if seen[i] != m.ID {
			t.Fatalf("position %d: got id %d, want %d", i, seen[i], m.ID)
		}
	}
}

func TestHubRejoinSkipsQueuedMessagesCoveredByReplay(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	room := mustCreateRoom(t, st, "alice", "general")

	c := NewClient("c", "alice", 16)
	hub.RegisterClient(c)
	if err := hub.Join(ctx, c, room.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustEvent(t, c.Events, EventHistory)

	// The message and its reply stay queued while the client joins again.
	if _, err := hub.Send(ctx, room.ID, "alice", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := hub.Join(ctx, c, room.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if _, err := hub.Send(ctx, room.ID, "alice", "again"); err != nil {
		t.Fatalf("send: %v", err)
	}

	var written []*Event
	for len(c.Events) > 0 {
		ev := <-c.Events
		if !c.Stale(ev) {
			written = append(written, ev)
		}
	}

	if len(written) != 3 {
		t.Fatalf("expected history and two live messages, got %d events", len(written))
	}
	if written[0].Kind != EventHistory || len(written[0].Messages) != 2 {
		t.Fatalf("expected replay of 2 messages first, got %+v", written[0])
	}
	if written[1].Message.Text != "again" || written[2].Message.From != DefaultResponderIdentity {
		t.Fatalf("unexpected live messages: %+v %+v", written[1].Message, written[2].Message)
	}
	if written[1].Message.ID <= written[0].Messages[1].ID {
		t.Fatalf("live message %d overlaps replay", written[1].Message.ID)
	}
}

func TestHubDropsSlowClientWithoutBlockingOthers(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st)
	ctx := context.Background()
	room := mustCreateRoom(t, st, "alice", "general")

	slow := NewClient("slow", "slow", 1)
	fast := NewClient("fast", "fast", 16)
	for _, c := range []*Client{slow, fast} {
		hub.RegisterClient(c)
		if err := hub.Join(ctx, c, room.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	// slow's single slot is taken by its history event.

	if _, err := hub.Send(ctx, room.ID, "alice", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected slow client to be closed")
	}
	if !slow.Slow() {
		t.Fatalf("expected slow flag")
	}

	mustEvent(t, fast.Events, EventHistory)
	mustEvent(t, fast.Events, EventRoomMessage)
	mustEvent(t, fast.Events, EventRoomMessage)

	if subs := hub.Registry().SubscribersOf(room.ID); len(subs) != 1 || subs[0] != fast {
		t.Fatalf("expected only the fast client to remain a live subscriber")
	}
}

func TestHubRunClosesClientsOnShutdown(t *testing.T) {
	hub := newTestHub(t, newTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	c := NewClient("a", "alice", 8)
	hub.RegisterClient(c)

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected client to be closed")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", hub.ClientCount())
	}
}
