package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedResponderDefaults(t *testing.T) {
	r := NewFixedResponder("", "")
	require.Equal(t, "Клубочки крючочки", r.Identity())

	body, ok := r.Reply(1, Message{From: "alice", Text: "hi"})
	require.True(t, ok)
	require.Equal(t, "Пока на доработке", body)
}

func TestFixedResponderIgnoresItself(t *testing.T) {
	r := NewFixedResponder("bot", "pong")

	_, ok := r.Reply(1, Message{From: "bot", Text: "pong"})
	require.False(t, ok)

	body, ok := r.Reply(1, Message{From: "alice", Text: "ping"})
	require.True(t, ok)
	require.Equal(t, "pong", body)
}

func TestHubWithoutResponderStoresOnlyHumanMessage(t *testing.T) {
	st := newTestStore(t)
	hub := NewHub(st, HubOptions{})
	room := mustCreateRoom(t, st, "alice", "quiet")

	_, err := hub.Send(t.Context(), room.ID, "alice", "hi")
	require.NoError(t, err)

	messages, err := hub.History(t.Context(), room.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "alice", messages[0].From)
}
