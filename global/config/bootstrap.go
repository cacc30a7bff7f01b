package config

import (
	"context"
	"net"
	"strconv"

	"talkify/logger"
	"talkify/service/kafka"
	mgoSrv "talkify/service/mgo"
	"talkify/service/nacos"
	"talkify/service/natsx"
	redis "talkify/service/storage/redis"
	"talkify/tools/errs"
	"talkify/tools/ids"

	"github.com/Shopify/sarama"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func ConfigIds(c *AppConfig) {
	ids.SetNodeID(c.Gateway.SnowNode)
	logger.Info("[Config] id generator", zap.Int64("snowNode", c.Gateway.SnowNode))
}

func ConfigLogger(c *AppConfig) {
	logger.Init(c.Log.loggerConfig(c.Gateway.ServiceName))
}

// ConfigMgo 后台连接，存储调用在就绪前返回持久化错误
func ConfigMgo(ctx context.Context, c *AppConfig) {
	mgoSrv.StartAsync(ctx, &c.Mongo)
}

// ConfigRedis 未配置时返回 (nil, nil)
func ConfigRedis(ctx context.Context, c *AppConfig) (*goredis.Client, error) {
	if !c.Redis.Enabled() {
		logger.Info("[Config] redis disabled, session counts stay node-local")
		return nil, nil
	}
	return redis.InitRedis(ctx, c.Redis)
}

// ConfigNats 未配置时返回 (nil, nil)；启动后注册房间转发路由
func ConfigNats(c *AppConfig) (*natsx.NatsManager, error) {
	if !c.Nats.Enabled() {
		logger.Info("[Config] nats disabled, fan-out stays node-local")
		return nil, nil
	}
	if c.Nats.Name == "" {
		c.Nats.Name = c.Gateway.NodeID
	}
	mgr, err := natsx.StartNats(c.Nats)
	if err != nil {
		return nil, err
	}
	if err := mgr.RegisterRoute(c.Relay.Route()); err != nil {
		_ = natsx.StopNats()
		return nil, err
	}
	return mgr, nil
}

// ConfigKafka 未配置时返回 (nil, nil, nil)
func ConfigKafka(c *AppConfig) (*kafka.PresencePublisher, sarama.Client, error) {
	if !c.Kafka.Enabled() {
		logger.Info("[Config] kafka disabled, presence events not published")
		return nil, nil, nil
	}
	cl, err := kafka.NewClient(c.Kafka)
	if err != nil {
		return nil, nil, err
	}
	topics := kafka.GenTopics(c.Kafka)
	if c.Kafka.AutoCreateTopicsOnStart {
		admin, err := sarama.NewClusterAdminFromClient(cl)
		if err != nil {
			_ = cl.Close()
			return nil, nil, errs.WrapMsg(err, "kafka cluster admin")
		}
		// admin 与 client 共用连接，这里不能 Close admin
		if err := kafka.EnsureTopics(admin, topics, c.Kafka); err != nil {
			_ = cl.Close()
			return nil, nil, err
		}
	}
	pub, err := kafka.NewPresencePublisherFromClient(cl, topics)
	if err != nil {
		_ = cl.Close()
		return nil, nil, err
	}
	return pub, cl, nil
}

// ConfigNaming 把本节点登记到 nacos；未配置时返回 (nil, nil)
func ConfigNaming(c *AppConfig) (*nacos.Registry, error) {
	if !c.Nacos.Enabled() {
		return nil, nil
	}
	cli, err := nacos.NewNamingClient(c.Nacos)
	if err != nil {
		return nil, err
	}
	port, err := listenPort(c.Server.HTTPAddr)
	if err != nil {
		return nil, err
	}
	reg := nacos.NewRegistry(cli, c.Gateway.ServiceName, c.Gateway.NodeID, c.Server.AdvertiseIP, port)
	if err := reg.Register(); err != nil {
		return nil, err
	}
	return reg, nil
}

func listenPort(addr string) (uint64, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, errs.WrapMsg(err, "listen addr", "addr", addr)
	}
	n, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return 0, errs.WrapMsg(err, "listen port", "addr", addr)
	}
	return n, nil
}
