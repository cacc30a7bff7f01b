package chat

import (
	"sync"
	"time"

	"talkify/service/metrics"
)

// ConnState 连接状态机：UNBOUND -> ANNOUNCED -> DISCONNECTED
type ConnState int32

const (
	StateUnbound ConnState = iota
	StateAnnounced
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateUnbound:
		return "UNBOUND"
	case StateAnnounced:
		return "ANNOUNCED"
	case StateDisconnected:
		return "DISCONNECTED"
	}
	return "UNKNOWN"
}

// Client 一条 WebSocket 连接。单读协程处理入站事件，单写协程消费 send 队列。
// 同一用户可以有多条连接，各自独立维护。
type Client struct {
	ConnID string // 本节点内唯一（雪花 ID）
	Remote string

	mu        sync.Mutex
	userID    string
	state     ConnState
	rooms     map[string]struct{}
	send      chan []byte
	closed    bool
	createdAt time.Time
	heartbeat time.Time

	kick func() // 关闭底层传输，读循环随后退出并走 Disconnect
}

func newClient(connID, remote string, queue int, now time.Time, kick func()) *Client {
	if queue <= 0 {
		queue = 256
	}
	return &Client{
		ConnID:    connID,
		Remote:    remote,
		state:     StateUnbound,
		rooms:     make(map[string]struct{}),
		send:      make(chan []byte, queue),
		createdAt: now,
		heartbeat: now,
		kick:      kick,
	}
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms 当前加入的房间快照
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Outbound 写协程读取的发送队列，Disconnect 后关闭
func (c *Client) Outbound() <-chan []byte { return c.send }

// enqueue 非阻塞投递；队列满或已断开时丢弃
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.DroppedFrames.Inc()
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.DroppedFrames.Inc()
		return false
	}
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.heartbeat = now
	c.mu.Unlock()
}

// markDisconnected 返回 false 表示之前已经断开
func (c *Client) markDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.state = StateDisconnected
	return true
}

func (c *Client) closeQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) Kick() {
	if c.kick != nil {
		c.kick()
	}
}
