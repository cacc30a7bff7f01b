package presence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"talkify/logger"
	"talkify/service/metrics"
	"talkify/tools/errs"
	"talkify/tools/locker"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// IdentityStore 在线标志的持久化，isOnline 为准
type IdentityStore interface {
	FindOnlineUsers(ctx context.Context) ([]string, error)
	SetOnlineFlag(ctx context.Context, userID string, online bool) error
}

// Broadcaster 把在线状态推给所有会话（由会话路由实现）
type Broadcaster interface {
	BroadcastUserStatus(userID, status string)
	BroadcastOnlineUsers(userIDs []string)
}

// ChangeEvent 单个用户的在线状态变化
type ChangeEvent struct {
	UserID string    `json:"userId"`
	Status string    `json:"status"`
	NodeID string    `json:"nodeId"`
	At     time.Time `json:"at"`
}

// EventPublisher 在线状态变化的外部事件流（可选）
type EventPublisher interface {
	PublishPresenceChange(ctx context.Context, ev ChangeEvent) error
}

type Config struct {
	NodeID         string
	StoreTimeout   time.Duration // 单次存储调用超时
	PublishPool    int           // 异步投递事件的协程池大小
	PublishTimeout time.Duration
}

func (c *Config) norm() {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.PublishPool <= 0 {
		c.PublishPool = 16
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
}

// Registry 在线用户集合；内存集合只是 isOnline 的缓存，每次查询都以存储为准重建
type Registry struct {
	conf  Config
	store IdentityStore

	mu     sync.RWMutex
	online map[string]struct{}

	writes *locker.KeyedMutex

	bcMu sync.RWMutex
	bc   Broadcaster

	pub  EventPublisher
	pool *ants.Pool
}

type Option func(*Registry)

func WithBroadcaster(b Broadcaster) Option {
	return func(r *Registry) { r.bc = b }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(r *Registry) { r.pub = p }
}

func NewRegistry(store IdentityStore, conf Config, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errs.New("presence: nil identity store")
	}
	conf.norm()
	r := &Registry{
		conf:   conf,
		store:  store,
		online: make(map[string]struct{}),
		writes: locker.NewKeyedMutex(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.pub != nil {
		pool, err := ants.NewPool(conf.PublishPool, ants.WithNonblocking(true))
		if err != nil {
			return nil, errs.WrapMsg(err, "presence: create publish pool")
		}
		r.pool = pool
	}
	return r, nil
}

// SetBroadcaster 路由在注册表之后构造，启动时回填
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.bcMu.Lock()
	r.bc = b
	r.bcMu.Unlock()
}

func (r *Registry) broadcaster() Broadcaster {
	r.bcMu.RLock()
	defer r.bcMu.RUnlock()
	return r.bc
}

// Close 等待已提交的事件投递结束
func (r *Registry) Close() {
	if r.pool != nil {
		_ = r.pool.ReleaseTimeout(r.conf.PublishTimeout)
	}
}

// MarkOnline 先写 isOnline=true，成功后才进内存集合；失败返回 PersistenceError，集合不动
func (r *Registry) MarkOnline(ctx context.Context, userID string) error {
	return r.mark(ctx, userID, true)
}

// MarkOffline 与 MarkOnline 对称
func (r *Registry) MarkOffline(ctx context.Context, userID string) error {
	return r.mark(ctx, userID, false)
}

func (r *Registry) mark(ctx context.Context, userID string, online bool) error {
	userID = strings.TrimSpace(userID)
	status := statusOf(online)
	if userID == "" {
		return errs.ErrMalformedEvent.WrapMsg("empty user id", "status", status)
	}

	// 同一用户的写串行，避免 online/offline 交错写丢更新
	unlock := r.writes.Lock(userID)
	defer unlock()

	sctx, cancel := context.WithTimeout(ctx, r.conf.StoreTimeout)
	err := r.store.SetOnlineFlag(sctx, userID, online)
	cancel()
	if err != nil {
		metrics.PresenceWrites.WithLabelValues(status, "error").Inc()
		if !errors.Is(err, errs.ErrPersistence) && !errors.Is(err, errs.ErrMalformedEvent) {
			err = errs.ErrPersistence.WrapMsg(err.Error(), "user", userID, "status", status)
		}
		logger.Warn("[Presence] persist failed, in-memory set unchanged",
			zap.String("user", userID), zap.String("status", status), zap.Error(err))
		return err
	}
	metrics.PresenceWrites.WithLabelValues(status, "ok").Inc()

	r.mu.Lock()
	_, was := r.online[userID]
	if online {
		r.online[userID] = struct{}{}
	} else {
		delete(r.online, userID)
	}
	size := len(r.online)
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(size))

	if was != online {
		logger.Info("[Presence] transition", zap.String("user", userID), zap.String("status", status))
		if bc := r.broadcaster(); bc != nil {
			bc.BroadcastUserStatus(userID, status)
		}
		r.publish(userID, status)
	}
	return nil
}

// CurrentOnlineUsers 全量读 isOnline=true 并替换内存集合；读失败时集合不动
func (r *Registry) CurrentOnlineUsers(ctx context.Context) ([]string, error) {
	sctx, cancel := context.WithTimeout(ctx, r.conf.StoreTimeout)
	ids, err := r.store.FindOnlineUsers(sctx)
	cancel()
	if err != nil {
		if !errors.Is(err, errs.ErrPersistence) {
			err = errs.ErrPersistence.WrapMsg(err.Error(), "op", "reconcile")
		}
		logger.Warn("[Presence] reconcile failed", zap.Error(err))
		return nil, err
	}

	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(next))
	for id := range next {
		out = append(out, id)
	}
	sort.Strings(out)

	r.mu.Lock()
	r.online = next
	r.mu.Unlock()
	metrics.OnlineUsers.Set(float64(len(out)))
	return out, nil
}

// BroadcastPresence 对账后把完整在线列表发给所有会话；对账失败本轮跳过
func (r *Registry) BroadcastPresence(ctx context.Context) error {
	users, err := r.CurrentOnlineUsers(ctx)
	if err != nil {
		return err
	}
	if bc := r.broadcaster(); bc != nil {
		bc.BroadcastOnlineUsers(users)
	}
	return nil
}

// IsOnline 只读内存缓存，不做对账
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

// ApplyRemote 其他节点的状态变化只更新本地缓存，广播已由来源节点完成
func (r *Registry) ApplyRemote(ev ChangeEvent) bool {
	if ev.NodeID == r.conf.NodeID || strings.TrimSpace(ev.UserID) == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, was := r.online[ev.UserID]
	switch ev.Status {
	case StatusOnline:
		r.online[ev.UserID] = struct{}{}
	case StatusOffline:
		delete(r.online, ev.UserID)
	default:
		return false
	}
	metrics.OnlineUsers.Set(float64(len(r.online)))
	return was != (ev.Status == StatusOnline)
}

func (r *Registry) publish(userID, status string) {
	if r.pub == nil || r.pool == nil {
		return
	}
	ev := ChangeEvent{UserID: userID, Status: status, NodeID: r.conf.NodeID, At: time.Now()}
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.conf.PublishTimeout)
		defer cancel()
		if err := r.pub.PublishPresenceChange(ctx, ev); err != nil {
			logger.Warn("[Presence] publish change failed", zap.String("user", userID), zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("[Presence] publish pool busy, change event dropped", zap.String("user", userID), zap.Error(err))
	}
}

func statusOf(online bool) string {
	if online {
		return StatusOnline
	}
	return StatusOffline
}
