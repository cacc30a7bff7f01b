package config

import (
	"context"
	"strings"

	"talkify/logger"
	"talkify/service/nacos"
	"talkify/tools"
	"talkify/tools/decode"
	"talkify/tools/errs"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TALKIFY_"

func env(name string) string { return envPrefix + name }

// ApplyEnv 只覆盖设置了的变量
func ApplyEnv(c *AppConfig) {
	c.Gateway.NodeID = tools.GetEnv(env("NODE_ID"), c.Gateway.NodeID)
	c.Gateway.SnowNode = int64(tools.GetEnvInt(env("SNOW_NODE"), int(c.Gateway.SnowNode)))
	c.Gateway.UnannouncedTTL = tools.GetEnvDuration(env("UNANNOUNCED_TTL"), c.Gateway.UnannouncedTTL)
	c.Gateway.IdleTTL = tools.GetEnvDuration(env("IDLE_TTL"), c.Gateway.IdleTTL)

	c.Server.HTTPAddr = tools.GetEnv(env("HTTP_ADDR"), c.Server.HTTPAddr)
	c.Server.GRPCAddr = tools.GetEnv(env("GRPC_ADDR"), c.Server.GRPCAddr)
	c.Server.AdvertiseIP = tools.GetEnv(env("ADVERTISE_IP"), c.Server.AdvertiseIP)
	c.Server.AllowedOrigins = tools.GetEnvList(env("ALLOWED_ORIGINS"), c.Server.AllowedOrigins)

	c.Log.Level = tools.GetEnv(env("LOG_LEVEL"), c.Log.Level)
	c.Log.File = tools.GetEnv(env("LOG_FILE"), c.Log.File)

	c.Auth.JWTSecret = tools.GetEnv(env("JWT_SECRET"), c.Auth.JWTSecret)
	c.Auth.AnnounceAuth = tools.GetEnvBool(env("ANNOUNCE_AUTH"), c.Auth.AnnounceAuth)

	c.Mongo.Uri = tools.GetEnv(env("MONGO_URI"), c.Mongo.Uri)
	c.Mongo.Database = tools.GetEnv(env("MONGO_DB"), c.Mongo.Database)
	c.Mongo.Username = tools.GetEnv(env("MONGO_USER"), c.Mongo.Username)
	c.Mongo.Password = tools.GetEnv(env("MONGO_PASSWORD"), c.Mongo.Password)

	c.Redis.Addr = tools.GetEnv(env("REDIS_ADDR"), c.Redis.Addr)
	c.Redis.Password = tools.GetEnv(env("REDIS_PASSWORD"), c.Redis.Password)
	c.Redis.DB = tools.GetEnvInt(env("REDIS_DB"), c.Redis.DB)

	c.Nats.Servers = tools.GetEnvList(env("NATS_SERVERS"), c.Nats.Servers)
	c.Nats.User = tools.GetEnv(env("NATS_USER"), c.Nats.User)
	c.Nats.Password = tools.GetEnv(env("NATS_PASSWORD"), c.Nats.Password)
	c.Relay.Mode = tools.GetEnv(env("RELAY_MODE"), c.Relay.Mode)

	c.Kafka.Brokers = tools.GetEnvList(env("KAFKA_BROKERS"), c.Kafka.Brokers)

	c.Nacos.Addrs = tools.GetEnvList(env("NACOS_ADDRS"), c.Nacos.Addrs)
	c.Nacos.NamespaceID = tools.GetEnv(env("NACOS_NAMESPACE"), c.Nacos.NamespaceID)
	c.Nacos.Username = tools.GetEnv(env("NACOS_USER"), c.Nacos.Username)
	c.Nacos.Password = tools.GetEnv(env("NACOS_PASSWORD"), c.Nacos.Password)
	c.Nacos.DataID = tools.GetEnv(env("NACOS_DATA_ID"), c.Nacos.DataID)
	c.Nacos.Group = tools.GetEnv(env("NACOS_GROUP"), c.Nacos.Group)
}

// ApplyYAML 把 YAML 文档叠加到 c 上，文档里没有的字段保持原值
func ApplyYAML(c *AppConfig, doc string) error {
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
		return errs.WrapMsg(err, "parse config yaml")
	}
	if len(m) == 0 {
		return nil
	}
	next := *c
	if err := decode.Decode(m, &next); err != nil {
		return errs.WrapMsg(err, "apply config yaml")
	}
	*c = next
	return nil
}

// Load 默认值 -> 环境变量 -> nacos；nacos 不可用时用本地配置继续启动
func Load(ctx context.Context) (*AppConfig, error) {
	c := Default()
	ApplyEnv(&c)
	if !c.Nacos.Enabled() {
		return &c, nil
	}
	cli, err := nacos.NewConfigClient(c.Nacos)
	if err != nil {
		logger.Warn("[Config] nacos unavailable, using local config", zap.Error(err))
		return &c, nil
	}
	if err := loadRemote(ctx, &c, cli); err != nil {
		logger.Warn("[Config] nacos config not applied", zap.Error(err))
	}
	return &c, nil
}

// loadRemote 拉取并叠加远端配置；之后的推送只热更新日志级别，其余项需重启生效
func loadRemote(ctx context.Context, c *AppConfig, src nacos.ConfigSource) error {
	w := nacos.NewWatcher(src, c.Nacos.DataID, c.Nacos.Group)
	doc, err := w.Load()
	if err != nil {
		return err
	}
	if err := ApplyYAML(c, doc); err != nil {
		return err
	}
	base := *c
	return w.Watch(ctx, func(doc string) {
		next := base
		if err := ApplyYAML(&next, doc); err != nil {
			logger.Warn("[Config] bad config push ignored", zap.Error(err))
			return
		}
		if next.Log.Level != "" {
			logger.SetLevel(next.Log.Level)
			logger.Info("[Config] log level reloaded", zap.String("level", next.Log.Level))
		}
	})
}
