package chat

import "context"

type Handler interface {
	Event() string
	Handle(ctx context.Context, c *Client, ev Event) error
}

// HandlerFunc 便于注册简单处理器
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, c *Client, ev Event) error
}

func (h HandlerFunc) Event() string { return h.Name }

func (h HandlerFunc) Handle(ctx context.Context, c *Client, ev Event) error {
	return h.Fn(ctx, c, ev)
}
