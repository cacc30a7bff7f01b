package handlers

import (
	"context"

	"talkify/service/chat"
	"talkify/tools/errs"
)

// NewMessageHandler new message：消息已由 REST 落库，这里只负责转发
type NewMessageHandler struct{ r *chat.Router }

func NewNewMessageHandler(r *chat.Router) chat.Handler { return &NewMessageHandler{r: r} }

func (h *NewMessageHandler) Event() string { return chat.EventNewMessage }

func (h *NewMessageHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	m, ok := ev.(chat.NewMessageEvent)
	if !ok {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	return h.r.RelayMessage(ctx, c, m)
}
