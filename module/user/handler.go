package user

import (
	"context"
	"net/http"

	"talkify/global"
	"talkify/logger"
	"talkify/middleware"
	midsec "talkify/middleware/security"
	"talkify/module/user/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OnlineLister store.UserStore
type OnlineLister interface {
	ListOnlineUsers(ctx context.Context, exclude string) ([]*model.User, error)
}

type Handler struct {
	users OnlineLister
}

func NewHandler(users OnlineLister) *Handler {
	return &Handler{users: users}
}

func (h *Handler) Register(r gin.IRoutes, auth gin.HandlerFunc) {
	middleware.GET(r, "/api/users/online", h.OnlineUsers, middleware.RouteOpt{Auth: auth})
}

// OnlineUsers isOnline=true 的用户，不含请求方自己；直接返回数组
func (h *Handler) OnlineUsers(c *gin.Context) {
	var self string
	if s := midsec.Session(c); s != nil {
		self = s.UserID
	}
	users, err := h.users.ListOnlineUsers(c.Request.Context(), self)
	if err != nil {
		logger.Warn("[User] list online users failed", zap.String("user", self), zap.Error(err))
		c.JSON(global.HTTPStatus(err), global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, users)
}
