package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"talkify/tools/errs"

	"github.com/redis/go-redis/v9"
)

// ===== 配置 =====
type SessionIndexConfig struct {
	NodeID        string        // 节点ID（参与 member 命名）
	TTL           time.Duration // 会话条目有效期，靠 Refresh 续期
	KeyPrefix     string
	UseClusterTag bool // 是否使用 Redis Cluster hash-tag 对齐
}

func (c *SessionIndexConfig) norm() {
	if c.TTL <= 0 {
		c.TTL = 2 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "talkify:sess"
	}
}

// ===== Lua 脚本 =====
// 用户索引是一个 zset：member = <node>:<conn>，score = 过期时间（unix 秒）。
// 节点崩溃时它的条目不再续期，过期后被顺带清掉。

// 绑定一条会话并返回该用户的有效会话数
// KEYS[1] = user index key
// ARGV[1] = member
// ARGV[2] = nowUnix
// ARGV[3] = expAtUnix
// ARGV[4] = keyTtlSeconds
const luaBindSession = `
local userZ  = KEYS[1]
local member = ARGV[1]
local now    = tonumber(ARGV[2])
local expAt  = tonumber(ARGV[3])
local keyTtl = tonumber(ARGV[4])

redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
redis.call("ZADD", userZ, expAt, member)
redis.call("EXPIRE", userZ, keyTtl)
return redis.call("ZCARD", userZ)
`

// 解绑一条会话并返回剩余有效会话数；为 0 时删掉索引
// KEYS[1] = user index key
// ARGV[1] = member
// ARGV[2] = nowUnix
const luaUnbindSession = `
local userZ  = KEYS[1]
local member = ARGV[1]
local now    = tonumber(ARGV[2])

redis.call("ZREM", userZ, member)
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
local cnt = redis.call("ZCARD", userZ)
if cnt == 0 then
  redis.call("DEL", userZ)
end
return cnt
`

// 续期；条目已被清理时返回 0，调用方重新 Bind
// KEYS[1] = user index key
// ARGV[1] = member
// ARGV[2] = expAtUnix
// ARGV[3] = keyTtlSeconds
const luaRefreshSession = `
local userZ  = KEYS[1]
local member = ARGV[1]
local expAt  = tonumber(ARGV[2])
local keyTtl = tonumber(ARGV[3])

if redis.call("ZSCORE", userZ, member) == false then
  return 0
end
redis.call("ZADD", userZ, "XX", expAt, member)
redis.call("EXPIRE", userZ, keyTtl)
return 1
`

// 清理过期并返回有效会话数
// KEYS[1] = user index key
// ARGV[1] = nowUnix
const luaCountSessions = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", userZ, "-inf", now)
return redis.call("ZCARD", userZ)
`

// RedisSessionIndex 跨节点的用户会话计数，断线时据此判断是否最后一条连接
type RedisSessionIndex struct {
	conf SessionIndexConfig
	rdb  redis.Cmdable
	now  func() time.Time

	luaBind    *redis.Script
	luaUnbind  *redis.Script
	luaRefresh *redis.Script
	luaCount   *redis.Script
}

func NewRedisSessionIndex(rdb redis.Cmdable, conf SessionIndexConfig) (*RedisSessionIndex, error) {
	if rdb == nil {
		return nil, errs.New("session index: nil redis client")
	}
	if conf.NodeID == "" {
		return nil, errs.New("session index: empty node id")
	}
	conf.norm()
	return &RedisSessionIndex{
		conf:       conf,
		rdb:        rdb,
		now:        time.Now,
		luaBind:    redis.NewScript(luaBindSession),
		luaUnbind:  redis.NewScript(luaUnbindSession),
		luaRefresh: redis.NewScript(luaRefreshSession),
		luaCount:   redis.NewScript(luaCountSessions),
	}, nil
}

// ===== Key 构造 =====

func (m *RedisSessionIndex) userIndexKey(userID string) string {
	if m.conf.UseClusterTag {
		return m.conf.KeyPrefix + ":{" + userID + "}"
	}
	return m.conf.KeyPrefix + ":" + userID
}

func (m *RedisSessionIndex) member(connID string) string {
	return m.conf.NodeID + ":" + connID
}

// NodeOfMember 从 member 中取出节点ID
func NodeOfMember(member string) string {
	node, _, ok := strings.Cut(member, ":")
	if !ok {
		return ""
	}
	return node
}

func (m *RedisSessionIndex) keyTTLSeconds() int64 {
	return int64((m.conf.TTL * 2) / time.Second)
}

func (m *RedisSessionIndex) Bind(ctx context.Context, userID, connID string) (int64, error) {
	now := m.now()
	n, err := m.luaBind.Run(ctx, m.rdb, []string{m.userIndexKey(userID)},
		m.member(connID), now.Unix(), now.Add(m.conf.TTL).Unix(), m.keyTTLSeconds()).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "session bind", "user", userID, "conn", connID)
	}
	return n, nil
}

func (m *RedisSessionIndex) Unbind(ctx context.Context, userID, connID string) (int64, error) {
	n, err := m.luaUnbind.Run(ctx, m.rdb, []string{m.userIndexKey(userID)},
		m.member(connID), m.now().Unix()).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "session unbind", "user", userID, "conn", connID)
	}
	return n, nil
}

// Refresh 续期；条目丢失时补绑
func (m *RedisSessionIndex) Refresh(ctx context.Context, userID, connID string) error {
	exp := m.now().Add(m.conf.TTL).Unix()
	ok, err := m.luaRefresh.Run(ctx, m.rdb, []string{m.userIndexKey(userID)},
		m.member(connID), exp, m.keyTTLSeconds()).Int64()
	if err != nil {
		return errs.WrapMsg(err, "session refresh", "user", userID, "conn", connID)
	}
	if ok == 0 {
		_, err = m.Bind(ctx, userID, connID)
	}
	return err
}

// Count 用户当前有效会话数（所有节点）
func (m *RedisSessionIndex) Count(ctx context.Context, userID string) (int64, error) {
	n, err := m.luaCount.Run(ctx, m.rdb, []string{m.userIndexKey(userID)}, m.now().Unix()).Int64()
	if err != nil {
		return 0, errs.WrapMsg(err, "session count", "user", userID)
	}
	return n, nil
}

// Nodes 用户会话所在的节点
func (m *RedisSessionIndex) Nodes(ctx context.Context, userID string) ([]string, error) {
	members, err := m.rdb.ZRangeByScore(ctx, m.userIndexKey(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(m.now().Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "session nodes", "user", userID)
	}
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, mb := range members {
		n := NodeOfMember(mb)
		if _, dup := seen[n]; n == "" || dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}
