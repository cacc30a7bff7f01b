package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config 在线状态事件流
type Config struct {
	Brokers                 []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`
	GroupPrefix             string   `json:"groupPrefix" yaml:"groupPrefix" mapstructure:"groupPrefix"` // 实际组名 = 前缀 + 节点ID，每个节点都消费全量
	TopicPattern            string   `json:"topicPattern" yaml:"topicPattern" mapstructure:"topicPattern"`
	TopicCount              int      `json:"topicCount" yaml:"topicCount" mapstructure:"topicCount"`
	PartitionsPerTopic      int32    `json:"partitionsPerTopic" yaml:"partitionsPerTopic" mapstructure:"partitionsPerTopic"`
	ReplicationFactor       int16    `json:"replicationFactor" yaml:"replicationFactor" mapstructure:"replicationFactor"`
	ProducerRetries         int      `json:"producerRetries" yaml:"producerRetries" mapstructure:"producerRetries"`
	ProducerCompression     string   `json:"producerCompression" yaml:"producerCompression" mapstructure:"producerCompression"` // none/snappy/lz4/zstd
	ConsumerInitialOffset   string   `json:"consumerInitialOffset" yaml:"consumerInitialOffset" mapstructure:"consumerInitialOffset"`
	Version                 string   `json:"version" yaml:"version" mapstructure:"version"`
	AutoCreateTopicsOnStart bool     `json:"autoCreateTopicsOnStart" yaml:"autoCreateTopicsOnStart" mapstructure:"autoCreateTopicsOnStart"`
}

// DefaultConfig 单机默认值
func DefaultConfig() Config {
	return Config{
		GroupPrefix:             "talkify-presence-",
		TopicPattern:            "talkify.presence-%02d",
		TopicCount:              4,
		PartitionsPerTopic:      8,
		ReplicationFactor:       1,
		ProducerRetries:         5,
		ProducerCompression:     "snappy",
		ConsumerInitialOffset:   "newest",
		Version:                 "2.1.0",
		AutoCreateTopicsOnStart: true,
	}
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

func (c Config) kafkaVersion() sarama.KafkaVersion {
	v, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return sarama.V2_1_0_0
	}
	return v
}

// BuildBaseConfig 生产与消费共用
func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.kafkaVersion()

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	if cfg.Producer.Retry.Max <= 0 {
		cfg.Producer.Retry.Max = 1
	}
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key=userId，同一用户的事件有序
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
