package chat

import (
	"sync"
	"time"

	"talkify/service/metrics"
	"talkify/tools/errs"
)

// ===== 配置 =====

type ManagerConf struct {
	UnannouncedTTL time.Duration    // 连上后必须在此时间内 setup（如 60s）
	IdleTTL        time.Duration    // 已绑定连接无心跳的上限（<=0 不检查）
	SweepEvery     time.Duration    // 清理周期（如 10s）
	SendQueue      int              // 每连接发送队列长度
	Clock          func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnannouncedTTL <= 0 {
		c.UnannouncedTTL = 60 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
}

// ===== 数据结构 =====

// ConnManager 本节点的连接表：连接 -> 用户绑定表、用户索引、房间成员
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*Client            // 主索引：connID -> client
	byUser map[string]map[string]*Client // 绑定表：userID -> (connID -> client)
	rooms  map[string]map[string]*Client // 房间：roomID -> (connID -> client)

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwId     string // 节点ID
}

func NewConnManager(conf ManagerConf, gwId string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		rooms:  make(map[string]map[string]*Client),
		conf:   conf,
		gwId:   gwId,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwId() string {
	return m.gwId
}

// Close 停止清理协程并踢掉全部连接；索引由各自的 Disconnect 清掉
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	for _, c := range m.All() {
		c.Kick()
	}
}

// Add 新连接登记为 UNBOUND
func (m *ConnManager) Add(connID, remote string, kick func()) (*Client, error) {
	if connID == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("empty conn id")
	}
	c := newClient(connID, remote, m.conf.SendQueue, m.conf.Clock(), kick)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[connID]; exists {
		return nil, errs.New("conn id exists", "conn", connID)
	}
	m.bySnow[connID] = c
	metrics.Connections.Inc()
	return c, nil
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[connID]
	return c, ok
}

// BindUser 绑定用户并加入其个人房间；换绑时离开旧身份下的全部房间，新身份需重新 join。返回之前绑定的用户
func (m *ConnManager) BindUser(connID, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.bySnow[connID]
	if !ok {
		return "", errs.ErrConnectionNotFound.WrapMsg("bind", "conn", connID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return "", errs.ErrConnectionClosed.WrapMsg("bind", "conn", connID)
	}
	prev := c.userID
	if prev == user {
		c.state = StateAnnounced
		m.joinLocked(c, user)
		return prev, nil
	}

	if prev != "" {
		if mm := m.byUser[prev]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, prev)
			}
		}
		for room := range c.rooms {
			m.leaveLocked(c, room)
		}
	}

	if m.byUser[user] == nil {
		m.byUser[user] = make(map[string]*Client)
	}
	m.byUser[user][connID] = c
	c.userID = user
	c.state = StateAnnounced
	c.heartbeat = m.conf.Clock()
	m.joinLocked(c, user)
	return prev, nil
}

// Join 加入房间，重复加入无副作用；返回是否新加入
func (m *ConnManager) Join(connID, room string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.bySnow[connID]
	if !ok {
		return false, errs.ErrConnectionNotFound.WrapMsg("join", "conn", connID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false, errs.ErrConnectionClosed.WrapMsg("join", "conn", connID)
	}
	return m.joinLocked(c, room), nil
}

// 需持有 m.mu 与 c.mu
func (m *ConnManager) joinLocked(c *Client, room string) bool {
	if _, in := c.rooms[room]; in {
		return false
	}
	c.rooms[room] = struct{}{}
	mm := m.rooms[room]
	if mm == nil {
		mm = make(map[string]*Client)
		m.rooms[room] = mm
	}
	mm[c.ConnID] = c
	return true
}

func (m *ConnManager) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if mm := m.rooms[room]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.rooms, room)
		}
	}
}

// Remove 从全部索引与房间中摘除连接；返回其绑定的用户
func (m *ConnManager) Remove(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.bySnow[connID]
	if !ok {
		return "", false
	}
	delete(m.bySnow, connID)
	metrics.Connections.Dec()

	c.mu.Lock()
	defer c.mu.Unlock()
	for room := range c.rooms {
		m.leaveLocked(c, room)
	}
	user := c.userID
	if user != "" {
		if mm := m.byUser[user]; mm != nil {
			delete(mm, connID)
			if len(mm) == 0 {
				delete(m.byUser, user)
			}
		}
	}
	return user, true
}

// RoomClients 房间内连接快照
func (m *ConnManager) RoomClients(room string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.rooms[room]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// UserConnCount 本节点上该用户的存活连接数
func (m *ConnManager) UserConnCount(user string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[user])
}

func (m *ConnManager) All() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.bySnow))
	for _, c := range m.bySnow {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Heartbeat 刷新心跳（pong 或任意入站帧）
func (m *ConnManager) Heartbeat(connID string) {
	if c, ok := m.Get(connID); ok {
		c.touch(m.conf.Clock())
	}
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

// sweepOnce 踢掉超时未 setup 的连接和心跳超时的连接，返回踢掉的数量
func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*Client

	m.mu.RLock()
	for _, c := range m.bySnow {
		c.mu.Lock()
		switch {
		case c.state == StateUnbound && now.Sub(c.createdAt) > m.conf.UnannouncedTTL:
			expired = append(expired, c)
		case c.state == StateAnnounced && m.conf.IdleTTL > 0 && now.Sub(c.heartbeat) > m.conf.IdleTTL:
			expired = append(expired, c)
		}
		c.mu.Unlock()
	}
	m.mu.RUnlock()

	// 解锁后关闭，避免持锁期间关 socket
	for _, c := range expired {
		c.Kick()
	}
	return len(expired)
}
