package chat

import (
	"context"
	"errors"
	"sync"

	"talkify/logger"
	"talkify/service/metrics"
	"talkify/tools/errs"
	"talkify/tools/safe"

	"go.uber.org/zap"
)

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	d.handlers[h.Event()] = h
	d.mu.Unlock()
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[event]
}

// Dispatch 解析、校验并交给对应处理器；处理器 panic 只影响这一帧
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) error {
	f, err := ParseFrameJSON(raw)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("invalid", "malformed").Inc()
		return err
	}
	h := d.GetHandler(f.Event)
	if h == nil {
		metrics.InboundEvents.WithLabelValues("unknown", "malformed").Inc()
		return errs.ErrMalformedEvent.WrapMsg("no handler", "event", f.Event)
	}
	ev, err := DecodeEvent(f)
	if err != nil {
		metrics.InboundEvents.WithLabelValues(f.Event, "malformed").Inc()
		return err
	}

	err = safe.Call("dispatch "+f.Event, func() error {
		return h.Handle(ctx, c, ev)
	})
	metrics.InboundEvents.WithLabelValues(f.Event, outcome(err)).Inc()
	if err != nil {
		logger.Debug("[Dispatcher] handler returned error",
			zap.String("event", f.Event), zap.String("conn", c.ConnID), zap.Error(err))
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errs.ErrPersistence):
		return "persistence"
	}
	return "error"
}
