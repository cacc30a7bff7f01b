package natsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"talkify/logger"
	"talkify/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core          NatsxMode = iota // 无持久化
	JetStreamPush                  // JS 推送订阅
)

func ParseMode(s string) NatsxMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jetstream", "js", "jetstream_push":
		return JetStreamPush
	default:
		return Core
	}
}

// NatsxRoute 路由配置（按 Biz 维度注册）
type NatsxRoute struct {
	Biz           string
	Subject       string
	Mode          NatsxMode
	Queue         string // 队列组；广播时留空
	Stream        string // JS 流名，不存在时自动创建
	Durable       string
	AckWait       time.Duration
	MaxAge        time.Duration // 流消息保留时长
	MaxAckPending int
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string      `json:"servers" yaml:"servers" mapstructure:"servers"`
	Name            string        `json:"name" yaml:"name" mapstructure:"name"`
	User            string        `json:"user" yaml:"user" mapstructure:"user"`
	Password        string        `json:"password" yaml:"password" mapstructure:"password"`
	ReconnectWait   time.Duration `json:"reconnectWait" yaml:"reconnectWait" mapstructure:"reconnectWait"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	PublishAsyncMax int           `json:"publishAsyncMax" yaml:"publishAsyncMax" mapstructure:"publishAsyncMax"`
}

func (c NatsxConfig) Enabled() bool { return len(c.Servers) > 0 }

func (c *NatsxConfig) norm() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
}

func (c NatsxConfig) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	return opts
}

// NatsxClient 统一客户端
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]NatsxRoute         // biz -> route
	subs   map[string]*nats.Subscription // biz -> sub
}

// NewNatsxClient 连接 NATS
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if !cfg.Enabled() {
		return nil, errs.New("nats servers missing")
	}
	cfg.norm()
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), cfg.options()...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		routes: make(map[string]NatsxRoute),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close 优雅关闭
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for biz, sub := range c.subs {
		_ = sub.Drain()
		delete(c.subs, biz)
	}
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// ensureJS 初始化 JetStream 上下文
func (c *NatsxClient) ensureJS() error {
	if c.js != nil {
		return nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return err
	}
	c.js = js
	return nil
}

// ensureStream 流不存在时按路由创建
func (c *NatsxClient) ensureStream(r NatsxRoute) error {
	if r.Stream == "" {
		return nil
	}
	if _, err := c.js.StreamInfo(r.Stream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:     r.Stream,
		Subjects: []string{r.Subject},
		Storage:  nats.MemoryStorage,
		MaxAge:   r.MaxAge,
	})
	if err == nil {
		logger.Info("[NATS] stream created", zap.String("stream", r.Stream), zap.String("subject", r.Subject))
	}
	return err
}

// RegisterRoute 注册 Biz 路由
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.New("invalid route", "biz", r.Biz, "subject", r.Subject)
	}
	if r.Mode == JetStreamPush {
		if err := c.ensureJS(); err != nil {
			return errs.WrapMsg(err, "init jetstream")
		}
		if r.MaxAge == 0 {
			r.MaxAge = time.Minute
		}
		if err := c.ensureStream(r); err != nil {
			return errs.WrapMsg(err, "ensure stream", "stream", r.Stream)
		}
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

// route 查询已注册路由
func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

func toHeader(h map[string]string) nats.Header {
	hd := nats.Header{}
	for k, v := range h {
		hd.Set(k, v)
	}
	return hd
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header = toHeader(hdr)
	if err := c.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "publish failed", "subject", subject)
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header = toHeader(hdr)

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "publish failed", "subject", subject)
	}
	logger.Debug("[NATS] published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))
	return nil
}
