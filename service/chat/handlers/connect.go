package handlers

import (
	"context"

	"talkify/service/chat"
	"talkify/tools/errs"
)

// JoinChatHandler join chat：加入会话房间
type JoinChatHandler struct{ r *chat.Router }

func NewJoinChatHandler(r *chat.Router) chat.Handler { return &JoinChatHandler{r: r} }

func (h *JoinChatHandler) Event() string { return chat.EventJoinChat }

func (h *JoinChatHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	j, ok := ev.(chat.JoinRoomEvent)
	if !ok {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	return h.r.JoinRoom(ctx, c, j.RoomID)
}
