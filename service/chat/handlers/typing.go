package handlers

import (
	"context"

	"talkify/service/chat"
	"talkify/tools/errs"
)

type TypingHandler struct{ r *chat.Router }

func NewTypingHandler(r *chat.Router) chat.Handler { return &TypingHandler{r: r} }

func (h *TypingHandler) Event() string { return chat.EventTyping }

func (h *TypingHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	t, ok := ev.(chat.TypingEvent)
	if !ok {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	return h.r.RelayTyping(ctx, c, t.RoomID)
}

type StopTypingHandler struct{ r *chat.Router }

func NewStopTypingHandler(r *chat.Router) chat.Handler { return &StopTypingHandler{r: r} }

func (h *StopTypingHandler) Event() string { return chat.EventStopTyping }

func (h *StopTypingHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	t, ok := ev.(chat.StopTypingEvent)
	if !ok {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	return h.r.RelayStopTyping(ctx, c, t.RoomID)
}
