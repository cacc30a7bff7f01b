package api

import (
	"context"
	"net/http"
	"strings"

	"talkify/global"
	"talkify/logger"
	"talkify/middleware"
	midsec "talkify/middleware/security"
	"talkify/module/chat/model"
	"talkify/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MessageCreator store.ChatStore
type MessageCreator interface {
	CreateMessage(ctx context.Context, senderID, chatID, content string) (*model.PopulatedMessage, error)
}

// Relayer chat.Router
type Relayer interface {
	RelayPersisted(ctx context.Context, msg *model.PopulatedMessage) error
}

type SendMessageReq struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type Handler struct {
	chats  MessageCreator
	router Relayer
}

func NewHandler(chats MessageCreator, router Relayer) *Handler {
	return &Handler{chats: chats, router: router}
}

func (h *Handler) Register(r gin.IRoutes, auth gin.HandlerFunc) {
	middleware.POST(r, "/api/messages", h.SendMessage, middleware.RouteOpt{Auth: auth})
}

// SendMessage 先落库，成功后再向成员分发 message received
func (h *Handler) SendMessage(c *gin.Context) {
	s := midsec.Session(c)
	if s == nil {
		err := errs.ErrUnauthorizedRequest.WrapMsg("no session")
		c.JSON(global.HTTPStatus(err), global.Fail(err))
		return
	}
	var req SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ChatID) == "" || strings.TrimSpace(req.Content) == "" {
		e := errs.ErrMalformedEvent.WrapMsg("invalid data passed into request")
		c.JSON(global.HTTPStatus(e), global.Fail(e))
		return
	}

	ctx := c.Request.Context()
	msg, err := h.chats.CreateMessage(ctx, s.UserID, req.ChatID, req.Content)
	if err != nil {
		logger.Warn("[Message] create failed", zap.String("user", s.UserID), zap.String("chat", req.ChatID), zap.Error(err))
		c.JSON(global.HTTPStatus(err), global.Fail(err))
		return
	}
	// 已落库，分发失败不影响返回
	if err := h.router.RelayPersisted(context.WithoutCancel(ctx), msg); err != nil {
		logger.Warn("[Message] relay failed", zap.String("message", msg.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, msg)
}
