package security

import (
	"net/http"
	"strings"

	"talkify/global"
	"talkify/logger"
	"talkify/tools/errs"
	"talkify/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context key，后续 handler 统一用它读取请求方
const PPCtxSessionKey = "userSession"

type Options struct {
	JWT                       security.Options
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions(secret []byte) Options {
	return Options{
		JWT:                       security.DefaultOptions(secret),
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
	}
}

// tokenFrom 兼容 Authorization: Bearer xxx
func tokenFrom(c *gin.Context, opts Options) string {
	raw := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if opts.EnableAuthorizationBearer && len(raw) > len("bearer ") &&
		strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(raw[len("bearer "):])
	}
	return raw
}

// Middleware 校验 JWT，sub 作为请求方用户ID写入 context
func Middleware(opts Options) gin.HandlerFunc {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "authorization"
	}
	return func(c *gin.Context) {
		token := tokenFrom(c, opts)
		if token == "" {
			abort(c, errs.ErrUnauthorizedRequest.WrapMsg("missing token", "path", c.FullPath()))
			return
		}
		claims, err := security.Verify(opts.JWT, token, "")
		if err != nil || claims.Subject() == "" {
			abort(c, errs.ErrUnauthorizedRequest.WrapMsg("invalid token", "path", c.FullPath()))
			return
		}
		c.Set(PPCtxSessionKey, &global.UserSession{UserID: claims.Subject(), Token: token})
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	logger.Debug("[Auth] request rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusUnauthorized, global.Fail(err))
}

// Session 取出鉴权后的请求方；未经过 Middleware 时返回 nil
func Session(c *gin.Context) *global.UserSession {
	v, ok := c.Get(PPCtxSessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*global.UserSession)
	return s
}
