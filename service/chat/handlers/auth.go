package handlers

import (
	"context"

	"talkify/service/chat"
	"talkify/tools/errs"
)

// AnnounceHandler setup：声明连接所属用户
type AnnounceHandler struct{ r *chat.Router }

func NewAnnounceHandler(r *chat.Router) chat.Handler { return &AnnounceHandler{r: r} }

func (h *AnnounceHandler) Event() string { return chat.EventSetup }

func (h *AnnounceHandler) Handle(ctx context.Context, c *chat.Client, ev chat.Event) error {
	a, ok := ev.(chat.AnnounceEvent)
	if !ok {
		return errs.ErrMalformedEvent.WrapMsg("unexpected payload", "event", h.Event())
	}
	return h.r.Announce(ctx, c, a)
}
