package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"talkify/logger"
	"talkify/module/chat/model"
	"talkify/service/metrics"
	"talkify/tools/errs"
	"talkify/tools/ids"
	"talkify/tools/locker"
	"talkify/tools/security"

	"go.uber.org/zap"
)

// Presence 在线状态注册表（service/presence.Registry）
type Presence interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	BroadcastPresence(ctx context.Context) error
}

// MembershipChecker 会话成员查询（module/chat/store.ChatStore）
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// SessionIndex 跨节点的用户会话计数；返回操作后该用户的存活会话总数
type SessionIndex interface {
	Bind(ctx context.Context, userID, connID string) (int64, error)
	Unbind(ctx context.Context, userID, connID string) (int64, error)
}

// SessionRefresher 条目带过期时间的索引（Redis）需要周期续期
type SessionRefresher interface {
	Refresh(ctx context.Context, userID, connID string) error
}

// RoomEnvelope 跨节点转发的房间帧；Room 为空表示发给所有连接
type RoomEnvelope struct {
	Event  string          `json:"event"`
	Room   string          `json:"room,omitempty"`
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay 把房间帧发往其他节点
type Relay interface {
	PublishRoom(ctx context.Context, env RoomEnvelope) error
}

type RouterConf struct {
	NodeID       string
	AnnounceAuth security.Options // Secret 为空时 setup 不校验令牌
	RelayTimeout time.Duration
}

// Router 会话路由：连接与用户绑定、房间、向成员分发
type Router struct {
	conf     RouterConf
	cm       *ConnManager
	presence Presence
	chats    MembershipChecker
	index    SessionIndex
	relay    Relay
	newID    func() string

	// 同一用户的"绑定+上线"与"判断最后一条+离线"串行
	users *locker.KeyedMutex
}

type RouterOption func(*Router)

func WithSessionIndex(idx SessionIndex) RouterOption {
	return func(r *Router) { r.index = idx }
}

func WithRelay(rl Relay) RouterOption {
	return func(r *Router) { r.relay = rl }
}

func WithIDGenerator(f func() string) RouterOption {
	return func(r *Router) { r.newID = f }
}

func NewRouter(cm *ConnManager, presence Presence, chats MembershipChecker, conf RouterConf, opts ...RouterOption) *Router {
	if conf.RelayTimeout <= 0 {
		conf.RelayTimeout = 2 * time.Second
	}
	if conf.NodeID == "" {
		conf.NodeID = cm.GwId()
	}
	r := &Router{
		conf:     conf,
		cm:       cm,
		presence: presence,
		chats:    chats,
		newID:    ids.GenerateString,
		users:    locker.NewKeyedMutex(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Router) ConnMgr() *ConnManager { return r.cm }

func (r *Router) NodeID() string { return r.conf.NodeID }

func (r *Router) Close() { r.cm.Close() }

// Open 登记一条新连接（UNBOUND）
func (r *Router) Open(remote string, kick func()) (*Client, error) {
	return r.cm.Add(r.newID(), remote, kick)
}

// Announce setup：绑定用户、加入个人房间、回 connected，再标记在线并广播
func (r *Router) Announce(ctx context.Context, c *Client, ev AnnounceEvent) error {
	if c.State() == StateDisconnected {
		return nil
	}
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" {
		err := errs.ErrMalformedEvent.WrapMsg("setup without user id", "conn", c.ConnID)
		logger.Warn("[Router] announce rejected", zap.Error(err))
		return err
	}
	if r.conf.AnnounceAuth.Enabled() {
		claims, verr := security.Verify(r.conf.AnnounceAuth, ev.Token, "")
		if verr != nil || claims.Subject() != userID {
			err := errs.ErrUnauthorizedAnnounce.WrapMsg("announce token rejected", "conn", c.ConnID, "user", userID)
			logger.Warn("[Router] announce rejected", zap.Error(err), zap.NamedError("verify", verr))
			r.sendError(c, err)
			return err
		}
	}

	unlock := r.users.Lock(userID)
	prev, err := r.cm.BindUser(c.ConnID, userID)
	if err != nil {
		unlock()
		if errors.Is(err, errs.ErrConnectionClosed) || errors.Is(err, errs.ErrConnectionNotFound) {
			return nil
		}
		return err
	}
	if prev != userID && r.index != nil {
		if _, err := r.index.Bind(ctx, userID, c.ConnID); err != nil {
			logger.Warn("[Router] session index bind failed", zap.String("user", userID), zap.Error(err))
		}
	}
	r.send(c, EventConnected, nil)
	err = r.presence.MarkOnline(ctx, userID)
	unlock()

	// 旧用户的锁在新用户的锁之外取，两条连接互相换绑不会死锁
	if prev != "" && prev != userID {
		logger.Info("[Router] connection rebound", zap.String("conn", c.ConnID),
			zap.String("from", prev), zap.String("to", userID))
		_ = r.release(ctx, prev, c.ConnID)
	}
	if err != nil {
		return err
	}
	_ = r.presence.BroadcastPresence(ctx)
	return nil
}

// JoinRoom 自己的个人房间直接放行，其余房间必须是会话成员
func (r *Router) JoinRoom(ctx context.Context, c *Client, roomID string) error {
	user, err := r.requireAnnounced(c, EventJoinChat)
	if err != nil || user == "" {
		return err
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errs.ErrMalformedEvent.WrapMsg("join without room id", "conn", c.ConnID)
	}

	if roomID != user {
		member := false
		if r.chats != nil {
			member, err = r.chats.IsMember(ctx, roomID, user)
			if err != nil && !errors.Is(err, errs.ErrMalformedEvent) {
				logger.Warn("[Router] membership lookup failed", zap.String("room", roomID),
					zap.String("user", user), zap.Error(err))
				r.sendError(c, err)
				return err
			}
		}
		if !member {
			err := errs.ErrUnauthorizedRoomJoin.WrapMsg("not a member", "room", roomID, "user", user)
			logger.Warn("[Router] join rejected", zap.String("conn", c.ConnID), zap.Error(err))
			r.sendError(c, err)
			return err
		}
	}

	added, err := r.cm.Join(c.ConnID, roomID)
	if err != nil {
		return nil
	}
	if added {
		logger.Debug("[Router] joined room", zap.String("conn", c.ConnID), zap.String("room", roomID))
	}
	return nil
}

// RelayMessage 把 message received 发往除发送者外所有成员的个人房间
func (r *Router) RelayMessage(ctx context.Context, c *Client, ev NewMessageEvent) error {
	user, err := r.requireAnnounced(c, EventNewMessage)
	if err != nil || user == "" {
		return err
	}
	if ev.SenderID != user {
		return errs.ErrMalformedEvent.WrapMsg("sender does not match bound user",
			"conn", c.ConnID, "sender", ev.SenderID, "user", user)
	}
	return r.fanOutMessage(ctx, ev.SenderID, ev.Members, ev.Raw)
}

// RelayPersisted 服务端写入路径：消息落库后再分发
func (r *Router) RelayPersisted(ctx context.Context, msg *model.PopulatedMessage) error {
	if msg == nil {
		return errs.ErrMalformedEvent.WrapMsg("nil message")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errs.WrapMsg(err, "marshal message", "message", msg.ID)
	}
	return r.fanOutMessage(ctx, msg.Sender.ID, msg.MemberIDs(), raw)
}

func (r *Router) fanOutMessage(ctx context.Context, sender string, members []string, raw json.RawMessage) error {
	if len(members) == 0 {
		err := errs.ErrMalformedEvent.WrapMsg("chat.users not defined", "sender", sender)
		logger.Warn("[Router] message dropped", zap.Error(err))
		return err
	}
	frame, err := BuildFrame(EventMessageReceived, raw)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if m == "" || m == sender {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		r.emitRoom(ctx, EventMessageReceived, m, frame, "")
	}
	return nil
}

func (r *Router) RelayTyping(ctx context.Context, c *Client, roomID string) error {
	return r.relayTyping(ctx, c, EventTyping, roomID)
}

func (r *Router) RelayStopTyping(ctx context.Context, c *Client, roomID string) error {
	return r.relayTyping(ctx, c, EventStopTyping, roomID)
}

// 尽力而为；发起连接自己不会收到
func (r *Router) relayTyping(ctx context.Context, c *Client, event, roomID string) error {
	user, err := r.requireAnnounced(c, event)
	if err != nil || user == "" {
		return err
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errs.ErrMalformedEvent.WrapMsg("missing room id", "event", event)
	}
	frame, err := BuildFrame(event, roomID)
	if err != nil {
		return err
	}
	r.emitRoom(ctx, event, roomID, frame, c.ConnID)
	return nil
}

// UserOnline 客户端显式上线信号，只能针对自己绑定的用户
func (r *Router) UserOnline(ctx context.Context, c *Client, userID string) error {
	return r.userSignal(ctx, c, userID, true)
}

func (r *Router) UserOffline(ctx context.Context, c *Client, userID string) error {
	return r.userSignal(ctx, c, userID, false)
}

func (r *Router) userSignal(ctx context.Context, c *Client, userID string, online bool) error {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	user, err := r.requireAnnounced(c, event)
	if err != nil || user == "" {
		return err
	}
	if strings.TrimSpace(userID) != user {
		return errs.ErrMalformedEvent.WrapMsg("status signal for another user",
			"event", event, "user", user, "target", userID)
	}
	unlock := r.users.Lock(user)
	if online {
		err = r.presence.MarkOnline(ctx, user)
	} else {
		err = r.presence.MarkOffline(ctx, user)
	}
	unlock()
	if err != nil {
		return err
	}
	_ = r.presence.BroadcastPresence(ctx)
	return nil
}

// Disconnect 同步摘除连接；该用户在任何节点都没有其他连接时才标记离线
func (r *Router) Disconnect(ctx context.Context, c *Client) error {
	if !c.markDisconnected() {
		return nil
	}
	user, _ := r.cm.Remove(c.ConnID)
	c.closeQueue()
	logger.Debug("[Router] disconnected", zap.String("conn", c.ConnID), zap.String("user", user))
	if user == "" {
		return nil
	}
	return r.release(ctx, user, c.ConnID)
}

// release 计数与离线写在用户锁内完成，同一用户并发的 Announce 只能排在前后
func (r *Router) release(ctx context.Context, user, connID string) error {
	unlock := r.users.Lock(user)
	local := r.cm.UserConnCount(user)
	var remote int64
	if r.index != nil {
		n, err := r.index.Unbind(ctx, user, connID)
		if err != nil {
			logger.Warn("[Router] session index unbind failed, using local count",
				zap.String("user", user), zap.Error(err))
		} else {
			remote = n
		}
	}
	if local > 0 || remote > 0 {
		unlock()
		logger.Debug("[Router] user still connected", zap.String("user", user),
			zap.Int("local", local), zap.Int64("total", remote))
		return nil
	}
	err := r.presence.MarkOffline(ctx, user)
	unlock()
	if err != nil {
		return err
	}
	_ = r.presence.BroadcastPresence(ctx)
	return nil
}

// KeepSessions 周期续期本节点已绑定连接的索引条目，ctx 结束时返回
func (r *Router) KeepSessions(ctx context.Context, every time.Duration) error {
	ref, ok := r.index.(SessionRefresher)
	if !ok {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.refreshSessions(ctx, ref)
		}
	}
}

func (r *Router) refreshSessions(ctx context.Context, ref SessionRefresher) int {
	n := 0
	for _, c := range r.cm.All() {
		user := c.UserID()
		if user == "" || c.State() != StateAnnounced {
			continue
		}
		if err := ref.Refresh(ctx, user, c.ConnID); err != nil {
			logger.Warn("[Router] session refresh failed", zap.String("user", user), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// ===== presence.Broadcaster =====

func (r *Router) BroadcastUserStatus(userID, status string) {
	frame, err := BuildFrame(EventUserStatus, UserStatusPayload{UserID: userID, Status: status})
	if err != nil {
		logger.Error("[Router] build user status", zap.Error(err))
		return
	}
	r.emitRoom(context.Background(), EventUserStatus, "", frame, "")
}

func (r *Router) BroadcastOnlineUsers(userIDs []string) {
	if userIDs == nil {
		userIDs = []string{}
	}
	frame, err := BuildFrame(EventOnlineUsers, userIDs)
	if err != nil {
		logger.Error("[Router] build online users", zap.Error(err))
		return
	}
	r.emitRoom(context.Background(), EventOnlineUsers, "", frame, "")
}

// DeliverRemote 其他节点转来的帧，只投本地
func (r *Router) DeliverRemote(env RoomEnvelope) int {
	return r.deliverLocal(env.Event, env.Room, env.Frame, env.Except)
}

// ===== 投递 =====

func (r *Router) emitRoom(ctx context.Context, event, room string, frame []byte, except string) {
	r.deliverLocal(event, room, frame, except)
	if r.relay == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, r.conf.RelayTimeout)
	defer cancel()
	env := RoomEnvelope{Event: event, Room: room, Except: except, Frame: frame}
	if err := r.relay.PublishRoom(rctx, env); err != nil {
		logger.Warn("[Router] relay publish failed", zap.String("event", event),
			zap.String("room", room), zap.Error(err))
	}
}

// deliverLocal room 为空时发给本节点所有连接
func (r *Router) deliverLocal(event, room string, frame []byte, except string) int {
	var targets []*Client
	if room == "" {
		targets = r.cm.All()
	} else {
		targets = r.cm.RoomClients(room)
	}
	n := 0
	for _, c := range targets {
		if c.ConnID == except {
			continue
		}
		if c.enqueue(frame) {
			n++
		} else {
			logger.Debug("[Router] frame dropped", zap.String("conn", c.ConnID), zap.String("event", event))
		}
	}
	if n > 0 {
		metrics.OutboundFrames.WithLabelValues(event).Add(float64(n))
	}
	return n
}

func (r *Router) send(c *Client, event string, data any) {
	frame, err := BuildFrame(event, data)
	if err != nil {
		logger.Error("[Router] build frame", zap.String("event", event), zap.Error(err))
		return
	}
	if c.enqueue(frame) {
		metrics.OutboundFrames.WithLabelValues(event).Inc()
	}
}

func (r *Router) sendError(c *Client, err error) {
	p := ErrorPayload{Code: errs.ServerInternalError, Msg: err.Error()}
	var ce errs.CodeErrorI
	if errors.As(err, &ce) {
		p.Code, p.Msg = ce.ECode(), ce.EMsg()
	}
	r.send(c, EventError, p)
}

// requireAnnounced 返回 ("", nil) 表示连接已断开，调用方直接当作 no-op
func (r *Router) requireAnnounced(c *Client, event string) (string, error) {
	switch c.State() {
	case StateDisconnected:
		return "", nil
	case StateUnbound:
		return "", errs.ErrMalformedEvent.WrapMsg("event before setup", "event", event, "conn", c.ConnID)
	}
	return c.UserID(), nil
}
