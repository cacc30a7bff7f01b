package kafka

import (
	"sync"

	"talkify/tools/errs"
)

type MessageHandler func(topic string, key, value []byte) error

// HandlerRegistry topic -> handler
type HandlerRegistry struct {
	mu sync.RWMutex
	m  map[string]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{m: make(map[string]MessageHandler)}
}

func (r *HandlerRegistry) Register(topic string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[topic] = h
}

// RegisterAll 所有分片 Topic 注册同一处理逻辑
func (r *HandlerRegistry) RegisterAll(topics []string, h MessageHandler) {
	for _, t := range topics {
		r.Register(t, h)
	}
}

func (r *HandlerRegistry) Get(topic string) (MessageHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.m[topic]; ok {
		return h, nil
	}
	return nil, errs.New("no handler registered for topic", "topic", topic)
}

func (r *HandlerRegistry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for t := range r.m {
		out = append(out, t)
	}
	return out
}
