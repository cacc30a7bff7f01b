package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"talkify/logger"
	"talkify/service/presence"
	"talkify/tools/errs"
	"talkify/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct {
	handlers *HandlerRegistry
}

func NewConsumerGroupHandler(h *HandlerRegistry) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{handlers: h}
}

func (h *ConsumerGroupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	logger.Info("[Kafka] consumer group setup", zap.Int32("generation", sess.GenerationID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("[Kafka] consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.dispatch(msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

// dispatch 处理失败只记录，不阻塞分区
func (h *ConsumerGroupHandler) dispatch(msg *sarama.ConsumerMessage) {
	handler, err := h.handlers.Get(msg.Topic)
	if err != nil {
		logger.Warn("[Kafka] no handler", zap.String("topic", msg.Topic))
		return
	}
	err = safe.Call("kafka.handler", func() error { return handler(msg.Topic, msg.Key, msg.Value) })
	if err != nil {
		logger.Warn("[Kafka] handler error", zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

// RunConsumerGroup 阻塞消费直到 ctx 结束
func RunConsumerGroup(ctx context.Context, c Config, groupID string, handlers *HandlerRegistry) error {
	group, err := sarama.NewConsumerGroup(c.Brokers, groupID, BuildBaseConfig(c))
	if err != nil {
		return errs.WrapMsg(err, "kafka consumer group", "group", groupID)
	}
	defer group.Close()

	safe.SafeGo("kafka.group.errors", func() {
		for err := range group.Errors() {
			logger.Warn("[Kafka] consumer group error", zap.Error(err))
		}
	})

	topics := handlers.Topics()
	h := NewConsumerGroupHandler(handlers)
	for {
		if err := group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warn("[Kafka] consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// RemoteApplier 接收其他节点的在线状态变化（presence.Registry 实现）
type RemoteApplier interface {
	ApplyRemote(ev presence.ChangeEvent) bool
}

// PresenceEventHandler 把事件流里的变化同步到本地缓存
func PresenceEventHandler(dst RemoteApplier) MessageHandler {
	return func(topic string, key, value []byte) error {
		var ev presence.ChangeEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return errs.WrapMsg(err, "decode presence event", "topic", topic, "key", string(key))
		}
		if ev.UserID == "" {
			ev.UserID = string(key)
		}
		if dst.ApplyRemote(ev) {
			logger.Debug("[Kafka] remote presence applied", zap.String("user", ev.UserID),
				zap.String("status", ev.Status), zap.String("node", ev.NodeID))
		}
		return nil
	}
}
