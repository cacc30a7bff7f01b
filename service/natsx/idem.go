package natsx

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ----- 抽象存储 -----
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// MemIdem 单进程内存实现
type MemIdem struct {
	mu   sync.Mutex
	m    map[string]int64 // key -> expireUnixNano
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	mi := &MemIdem{m: make(map[string]int64), ttl: defaultTTL, now: time.Now, stop: make(chan struct{})}
	go mi.gcLoop(time.Minute)
	return mi
}

func (mi *MemIdem) gcLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mi.stop:
			return
		case <-t.C:
			mi.gc()
		}
	}
}

func (mi *MemIdem) gc() int {
	now := mi.now().UnixNano()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	n := 0
	for k, exp := range mi.m {
		if exp <= now {
			delete(mi.m, k)
			n++
		}
	}
	return n
}

func (mi *MemIdem) Close() { mi.once.Do(func() { close(mi.stop) }) }

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if old, ok := mi.m[key]; ok && old > now.UnixNano() {
		return true, nil // 已见过
	}
	mi.m[key] = now.Add(ttl).UnixNano()
	return false, nil
}

// ----- 从消息头提取 msgID -----
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{HeaderMsgID, "X-Msg-Id"} {
		if v := headerValue(h, k); v != "" {
			return v
		}
	}
	return ""
}

// headerValue 大小写不敏感地取头
func headerValue(h map[string]string, key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ----- 幂等中间件 -----
// 没有 msgID 的消息直接放行
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			seen, err := store.SeenOnce(id, ttl)
			if err == nil && seen {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
