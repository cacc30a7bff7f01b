package config

import (
	"time"

	"talkify/data/database/mgo/mongoutil"
	"talkify/logger"
	"talkify/service/kafka"
	"talkify/service/nacos"
	"talkify/service/natsx"
	redis "talkify/service/storage/redis"

	"github.com/google/uuid"
)

type ServerConf struct {
	HTTPAddr       string        `json:"httpAddr"`
	GRPCAddr       string        `json:"grpcAddr"` // 空串表示不启 gRPC 健康检查
	WSPath         string        `json:"wsPath"`
	AdvertiseIP    string        `json:"advertiseIp"`
	ReadLimit      int64         `json:"readLimit"`
	PingInterval   time.Duration `json:"pingInterval"`
	PongWait       time.Duration `json:"pongWait"`
	WriteWait      time.Duration `json:"writeWait"`
	HandleTimeout  time.Duration `json:"handleTimeout"`
	RatePerSec     float64       `json:"ratePerSec"`
	RateBurst      int           `json:"rateBurst"`
	AllowedOrigins []string      `json:"allowedOrigins"`
}

type GatewayConf struct {
	NodeID         string        `json:"nodeId"`
	SnowNode       int64         `json:"snowNode"`
	ServiceName    string        `json:"serviceName"`
	UnannouncedTTL time.Duration `json:"unannouncedTTL"`
	IdleTTL        time.Duration `json:"idleTTL"`
	SweepEvery     time.Duration `json:"sweepEvery"`
	SendQueue      int           `json:"sendQueue"`
	SessionTTL     time.Duration `json:"sessionTTL"`
	SessionRefresh time.Duration `json:"sessionRefresh"`
	RelayTimeout   time.Duration `json:"relayTimeout"`
}

type PresenceConf struct {
	StoreTimeout   time.Duration `json:"storeTimeout"`
	PublishPool    int           `json:"publishPool"`
	PublishTimeout time.Duration `json:"publishTimeout"`
}

type AuthConf struct {
	JWTSecret    string `json:"jwtSecret"`
	AnnounceAuth bool   `json:"announceAuth"` // setup 是否必须带令牌
}

type LogConf struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDay  int    `json:"maxAgeDay"`
	Compress   bool   `json:"compress"`
}

func (l LogConf) loggerConfig(service string) logger.Config {
	return logger.Config{
		Level:   l.Level,
		Service: service,
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDay:  l.MaxAgeDay,
			Compress:   l.Compress,
		},
	}
}

// AppConfig 代码默认值 < TALKIFY_* 环境变量 < nacos 下发的 YAML
type AppConfig struct {
	Server   ServerConf        `json:"server"`
	Gateway  GatewayConf       `json:"gateway"`
	Presence PresenceConf      `json:"presence"`
	Auth     AuthConf          `json:"auth"`
	Log      LogConf           `json:"log"`
	Mongo    mongoutil.Config  `json:"mongo"`
	Redis    redis.Config      `json:"redis"`
	Nats     natsx.NatsxConfig `json:"nats"`
	Relay    natsx.RelayConf   `json:"relay"`
	Kafka    kafka.Config      `json:"kafka"`
	Nacos    nacos.Config      `json:"nacos"`
}

// Default 单机开发默认值；redis/nats/kafka/nacos 默认关闭
func Default() AppConfig {
	return AppConfig{
		Server: ServerConf{
			HTTPAddr:      ":8080",
			GRPCAddr:      ":50051",
			WSPath:        "/ws",
			AdvertiseIP:   "127.0.0.1",
			ReadLimit:     64 << 10,
			PingInterval:  25 * time.Second,
			PongWait:      60 * time.Second,
			WriteWait:     10 * time.Second,
			HandleTimeout: 10 * time.Second,
			RatePerSec:    50,
			RateBurst:     100,
		},
		Gateway: GatewayConf{
			NodeID:         "gw-" + uuid.NewString()[:8],
			SnowNode:       1,
			ServiceName:    "talkify-gateway",
			UnannouncedTTL: 60 * time.Second,
			IdleTTL:        0,
			SweepEvery:     10 * time.Second,
			SendQueue:      256,
			SessionTTL:     2 * time.Minute,
			SessionRefresh: 40 * time.Second,
			RelayTimeout:   2 * time.Second,
		},
		Presence: PresenceConf{
			StoreTimeout:   5 * time.Second,
			PublishPool:    16,
			PublishTimeout: 3 * time.Second,
		},
		Log: LogConf{Level: "info", MaxSizeMB: 100, MaxBackups: 7, MaxAgeDay: 14},
		Mongo: mongoutil.Config{
			Uri:         "mongodb://localhost:27017",
			Database:    "talkify",
			MaxPoolSize: 20,
			MaxRetry:    3,
		},
		Nats:  natsx.NatsxConfig{Name: "talkify-gateway"},
		Kafka: kafka.DefaultConfig(),
		Nacos: nacos.Config{DataID: "talkify.yaml", Group: "DEFAULT_GROUP"},
	}
}
