package redis

import (
	"context"
	"sync"
	"time"

	"talkify/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	redisMu  sync.RWMutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis；Addr 为空表示不启用
type Config struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	PoolSize int    `json:"poolSize" yaml:"poolSize"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// InitRedis 初始化 Redis 管理器（单例），Ping 不通返回错误且不登记
func InitRedis(ctx context.Context, c Config) (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return redisMgr.client, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	redisMgr = &RedisManager{client: rdb}
	return rdb, nil
}

// GetRedis 未初始化时返回 nil
func GetRedis() *redis.Client {
	redisMu.RLock()
	defer redisMu.RUnlock()
	if redisMgr == nil {
		return nil
	}
	return redisMgr.client
}

// CloseRedis 关闭连接
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil
	}
	err := redisMgr.client.Close()
	redisMgr = nil
	return err
}
