package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"talkify/global"
	"talkify/tools/errs"

	"github.com/gin-gonic/gin"
)

// OriginChecker allowed 为空或包含 "*" 时放行所有来源；没有 Origin 头的请求（非浏览器）也放行
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimRight(strings.ToLower(strings.TrimSpace(a)), "/")
		if a == "*" {
			return func(*http.Request) bool { return true }
		}
		if a != "" {
			set[a] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		if o == "" {
			return true
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Origin 跨域来源校验，同时回写 CORS 头
func Origin(allowed []string) gin.HandlerFunc {
	check := OriginChecker(allowed)
	return func(c *gin.Context) {
		if !check(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				global.Fail(errs.ErrUnauthorized.WrapMsg("origin not allowed", "origin", c.GetHeader("Origin"))))
			return
		}
		if o := c.GetHeader("Origin"); o != "" {
			c.Header("Access-Control-Allow-Origin", o)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
