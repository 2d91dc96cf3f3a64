package http

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/roomchat/internal/core"
	"github.com/vovakirdan/roomchat/internal/proto"
	"github.com/vovakirdan/roomchat/internal/store"
)

// inboundToCommand decodes a client envelope. A non-nil *proto.Error means the
// envelope was understood but rejected.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed join data"}
		}
		if join.RoomID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room_id is required"}
		}
		return &core.Command{Kind: core.CommandJoinRoom, RoomID: join.RoomID}, nil
	case proto.InboundTypeLeave:
		return &core.Command{Kind: core.CommandLeaveRoom}, nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "malformed msg data"}
		}
		if msg.RoomID <= 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "room_id is required"}
		}
		return &core.Command{Kind: core.CommandSendRoomMessage, RoomID: msg.RoomID, Text: msg.Text}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidInput, Msg: "unknown message type"}
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventRoomMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMessage,
			Data:  eventMessage(event.Message),
		}
	case core.EventHistory:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameHistory,
			Data: proto.EventHistory{
				RoomID:   event.RoomID,
				Messages: eventMessages(event.Messages),
			},
		}
	case core.EventError:
		if event.Error == nil {
			return errorOutbound(core.ErrCodeInternal, "unknown error")
		}
		return errorOutbound(event.Error.Code, event.Error.Message)
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}}
}

func eventMessage(m core.Message) proto.EventMessage {
	return proto.EventMessage{
		ID:     m.ID,
		RoomID: m.RoomID,
		User:   m.From,
		Text:   m.Text,
		TS:     m.CreatedAt.UnixMilli(),
	}
}

func eventMessages(messages []core.Message) []proto.EventMessage {
	return lo.Map(messages, func(m core.Message, _ int) proto.EventMessage {
		return eventMessage(m)
	})
}

func roomResponse(room *store.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		Owner:     room.Owner,
		CreatedAt: room.CreatedAt.Format(time.RFC3339),
	}
}

func roomResponses(rooms []*store.Room) []RoomResponse {
	return lo.Map(rooms, func(room *store.Room, _ int) RoomResponse {
		return roomResponse(room)
	})
}
