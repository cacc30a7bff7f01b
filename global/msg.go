package global

import (
	"errors"
	"net/http"

	"talkify/tools/errs"
)

// Msg HTTP 接口统一响应
type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Success(data any) *Msg {
	return &Msg{Code: 200, Data: data}
}

// Fail 错误码取自 errs.CodeError，其他错误一律 500
func Fail(err error) *Msg {
	m := &Msg{Code: errs.Code(err), Msg: "ServerInternalError"}
	var ce errs.CodeErrorI
	if errors.As(err, &ce) {
		m.Msg = ce.EMsg()
	}
	return m
}

// HTTPStatus 业务码到 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorizedRequest):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
