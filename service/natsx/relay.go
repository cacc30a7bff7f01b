package natsx

import (
	"context"
	"encoding/json"
	"time"

	"talkify/logger"
	"talkify/service/chat"
	"talkify/service/metrics"
	"talkify/tools/errs"

	"go.uber.org/zap"
)

const (
	BizRoomRelay = "room.relay"
	HeaderOrigin = "X-Talkify-Node"
)

// RelayConf 跨节点房间转发
type RelayConf struct {
	Subject  string        `json:"subject" yaml:"subject" mapstructure:"subject"`
	Mode     string        `json:"mode" yaml:"mode" mapstructure:"mode"` // core | jetstream
	Stream   string        `json:"stream" yaml:"stream" mapstructure:"stream"`
	Retries  int           `json:"retries" yaml:"retries" mapstructure:"retries"`
	Backoff  time.Duration `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	DedupTTL time.Duration `json:"dedupTTL" yaml:"dedupTTL" mapstructure:"dedupTTL"`
}

func (c *RelayConf) norm() {
	if c.Subject == "" {
		c.Subject = "talkify.room.relay"
	}
	if c.Stream == "" {
		c.Stream = "TALKIFY_RELAY"
	}
	if c.Backoff <= 0 {
		c.Backoff = 50 * time.Millisecond
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
}

// Route 转发使用的路由；每个节点都要收到全部帧，所以不设队列组
func (c RelayConf) Route() NatsxRoute {
	c.norm()
	return NatsxRoute{
		Biz:     BizRoomRelay,
		Subject: c.Subject,
		Mode:    ParseMode(c.Mode),
		Stream:  c.Stream,
	}
}

// Bus 转发依赖的 NATS 能力（NatsManager 实现）
type Bus interface {
	OncePublisher
	Subscribe(biz string, h NatsxHandler) error
}

// Deliverer 把其他节点的帧投到本地连接（chat.Router 实现）
type Deliverer interface {
	DeliverRemote(env chat.RoomEnvelope) int
}

// RoomRelay 实现 chat.Relay：本节点发出的房间帧经 NATS 扇出到其他节点
type RoomRelay struct {
	bus    Bus
	pub    *NatsxSyncPublisher
	nodeID string
	conf   RelayConf
	idem   *MemIdem
}

func NewRoomRelay(bus Bus, nodeID string, conf RelayConf) (*RoomRelay, error) {
	if bus == nil {
		return nil, errs.New("room relay: nil bus")
	}
	if nodeID == "" {
		return nil, errs.New("room relay: empty node id")
	}
	conf.norm()
	return &RoomRelay{
		bus:    bus,
		pub:    &NatsxSyncPublisher{P: bus, Retries: conf.Retries, Backoff: conf.Backoff},
		nodeID: nodeID,
		conf:   conf,
		idem:   NewMemIdem(conf.DedupTTL),
	}, nil
}

// PublishRoom chat.Relay
func (r *RoomRelay) PublishRoom(ctx context.Context, env chat.RoomEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope", "event", env.Event)
	}
	hdr := map[string]string{HeaderOrigin: r.nodeID}
	if err := r.pub.PublishOnce(ctx, BizRoomRelay, data, hdr, ""); err != nil {
		metrics.RelayEnvelopes.WithLabelValues("out", "error").Inc()
		return err
	}
	metrics.RelayEnvelopes.WithLabelValues("out", "ok").Inc()
	return nil
}

// Attach 订阅转发主题，收到的帧交给 dst
func (r *RoomRelay) Attach(dst Deliverer) error {
	h := NatsxChain(r.handler(dst), NatsxIdemMiddleware(r.idem, r.conf.DedupTTL))
	return r.bus.Subscribe(BizRoomRelay, h)
}

func (r *RoomRelay) handler(dst Deliverer) NatsxHandler {
	return func(_ context.Context, msg NatsxMessage) error {
		if headerValue(msg.Header, HeaderOrigin) == r.nodeID {
			return nil
		}
		var env chat.RoomEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil || env.Event == "" || len(env.Frame) == 0 {
			// 坏消息重投也没用，直接丢弃
			metrics.RelayEnvelopes.WithLabelValues("in", "malformed").Inc()
			logger.Warn("[Relay] malformed envelope", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		n := dst.DeliverRemote(env)
		metrics.RelayEnvelopes.WithLabelValues("in", "ok").Inc()
		logger.Debug("[Relay] delivered", zap.String("event", env.Event), zap.String("room", env.Room),
			zap.String("from", headerValue(msg.Header, HeaderOrigin)), zap.Int("conns", n))
		return nil
	}
}

func (r *RoomRelay) Close() { r.idem.Close() }
