package handlers

import (
	"context"

	"talkify/service/chat"
	"talkify/tools/errs"
)

// StatusHandler user online / user offline 两个事件共用
type StatusHandler struct {
	r      *chat.Router
	online bool
}

func NewUserOnlineHandler(r *chat.Router) chat.Handler  { return &StatusHandler{r: r, online: true} }
func NewUserOfflineHandler(r *chat.Router) chat.Handler { return &StatusHandler{r: r} }

func (h *StatusHandler) Event() string {
	if h.online {
		return chat.EventUserOnline
	}
	return chat.EventUserOffline
}

func (h *StatusHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	s, ok := ev.(chat.UserStatusSignal)
	if !ok || s.Online != h.online {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	if s.Online {
		return h.r.UserOnline(ctx, c, s.UserID)
	}
	return h.r.UserOffline(ctx, c, s.UserID)
}
