package kafka

import (
	"context"
	"encoding/json"

	"talkify/logger"
	"talkify/service/metrics"
	"talkify/service/presence"
	"talkify/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// NewClient 连接集群
func NewClient(c Config) (sarama.Client, error) {
	if !c.Enabled() {
		return nil, errs.New("kafka brokers missing")
	}
	cl, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	return cl, nil
}

// PresencePublisher 实现 presence.EventPublisher；Key=userId
type PresencePublisher struct {
	prod   sarama.SyncProducer
	topics []string
}

func NewPresencePublisher(prod sarama.SyncProducer, topics []string) (*PresencePublisher, error) {
	if prod == nil {
		return nil, errs.New("kafka: nil producer")
	}
	if len(topics) == 0 {
		return nil, errs.New("kafka: no presence topics")
	}
	return &PresencePublisher{prod: prod, topics: topics}, nil
}

// NewPresencePublisherFromClient 同步生产者复用已有连接
func NewPresencePublisherFromClient(cl sarama.Client, topics []string) (*PresencePublisher, error) {
	p, err := sarama.NewSyncProducerFromClient(cl)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return NewPresencePublisher(p, topics)
}

func (p *PresencePublisher) PublishPresenceChange(ctx context.Context, ev presence.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal presence event", "user", ev.UserID)
	}
	topic := SelectTopicByUser(ev.UserID, p.topics)
	partition, offset, err := p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.UserID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("node"), Value: []byte(ev.NodeID)},
		},
	})
	if err != nil {
		metrics.PresenceEvents.WithLabelValues("error").Inc()
		return errs.WrapMsg(err, "send presence event", "topic", topic, "user", ev.UserID)
	}
	metrics.PresenceEvents.WithLabelValues("ok").Inc()
	logger.Debug("[Kafka] presence event sent", zap.String("topic", topic), zap.Int32("partition", partition),
		zap.Int64("offset", offset), zap.String("user", ev.UserID), zap.String("status", ev.Status))
	return nil
}

func (p *PresencePublisher) Close() error { return p.prod.Close() }
