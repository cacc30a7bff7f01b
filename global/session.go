package global

// UserSession 通过鉴权的 HTTP 请求方
type UserSession struct {
	UserID string `json:"userId"`
	Token  string `json:"-"`
}
