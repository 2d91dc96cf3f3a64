package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat/internal/store"
)

// Router persists inbound messages and fans them out to room subscribers.
//
// For each room, append and fan-out happen under one lock, so every subscriber
// sees messages in the order they were persisted. The responder's reply is
// published under the same lock right after the message that triggered it.
type Router struct {
	registry  *Registry
	messages  store.MessageStore
	responder Responder
	locks     *roomLocks
	log       *zerolog.Logger
}

// NewRouter builds a router. responder may be nil to disable automatic replies.
func NewRouter(registry *Registry, messages store.MessageStore, responder Responder, logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{
		registry:  registry,
		messages:  messages,
		responder: responder,
		locks:     newRoomLocks(),
		log:       logger,
	}
}

// Send validates the room, persists the message, delivers it and then runs the
// responder. Nothing is stored if ctx is already done when Send is called;
// once the append starts, the send and its reply run to completion.
//
// If the message is stored but the reply is not, the stored message is
// returned together with the reply error.
func (r *Router) Send(ctx context.Context, roomID int64, identity, body string) (*Message, error) {
	if _, err := r.registry.Room(ctx, roomID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	unlock := r.locks.lock(roomID)
	defer unlock()

	msg, err := r.publish(ctx, roomID, identity, body)
	if err != nil {
		return nil, err
	}

	if r.responder == nil {
		return msg, nil
	}
	reply, ok := r.responder.Reply(roomID, *msg)
	if !ok {
		return msg, nil
	}
	if _, err := r.publish(ctx, roomID, r.responder.Identity(), reply); err != nil {
		r.log.Error().Err(err).Int64("room_id", roomID).Int64("message_id", msg.ID).Msg("responder reply not stored")
		return msg, fmt.Errorf("responder reply: %w", err)
	}
	return msg, nil
}

// publish is the persist-then-broadcast primitive. Callers hold the room lock.
func (r *Router) publish(ctx context.Context, roomID int64, identity, body string) (*Message, error) {
	stored, err := r.messages.AppendMessage(ctx, roomID, identity, body)
	if err != nil {
		r.log.Warn().Err(err).Int64("room_id", roomID).Str("identity", identity).Msg("message rejected by store")
		return nil, err
	}

	msg := messageFromStore(stored)
	ev := &Event{Kind: EventRoomMessage, RoomID: roomID, Message: msg}

	subscribers := r.registry.SubscribersOf(roomID)
	delivered := 0
	for _, c := range subscribers {
		if c.Deliver(ev) {
			delivered++
			continue
		}
		r.log.Warn().Str("client_id", c.ID).Int64("room_id", roomID).Msg("dropped slow client")
	}

	r.log.Debug().
		Int64("room_id", roomID).
		Int64("message_id", msg.ID).
		Str("identity", identity).
		Int("delivered", delivered).
		Msg("message published")

	return &msg, nil
}

// withRoom runs fn while holding roomID's lock, so no message can be
// published to that room in the meantime.
func (r *Router) withRoom(roomID int64, fn func() error) error {
	unlock := r.locks.lock(roomID)
	defer unlock()
	return fn()
}
