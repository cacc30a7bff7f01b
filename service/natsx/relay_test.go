package natsx

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"talkify/module/chat/model"
	"talkify/service/chat"
	"talkify/service/presence"
)

// loopBus 进程内模拟 NATS 广播主题
type loopBus struct {
	mu       sync.Mutex
	handlers []NatsxHandler
	fail     int
	calls    int
	ids      []string
}

func (b *loopBus) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	b.mu.Lock()
	b.calls++
	if b.fail > 0 {
		b.fail--
		b.mu.Unlock()
		return errors.New("nats down")
	}
	hs := append([]NatsxHandler(nil), b.handlers...)
	b.mu.Unlock()

	hdr = withMsgID(hdr, msgID)
	b.mu.Lock()
	b.ids = append(b.ids, hdr[HeaderMsgID])
	b.mu.Unlock()
	for _, h := range hs {
		_ = h(ctx, NatsxMessage{Subject: biz, Data: data, Header: hdr})
	}
	return nil
}

func (b *loopBus) Subscribe(_ string, h NatsxHandler) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
	return nil
}

type memIdentity struct {
	mu    sync.Mutex
	flags map[string]bool
}

func (s *memIdentity) FindOnlineUsers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, on := range s.flags {
		if on {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memIdentity) SetOnlineFlag(_ context.Context, id string, on bool) error {
	s.mu.Lock()
	s.flags[id] = on
	s.mu.Unlock()
	return nil
}

type countingDeliverer struct {
	mu   sync.Mutex
	envs []chat.RoomEnvelope
}

func (d *countingDeliverer) DeliverRemote(env chat.RoomEnvelope) int {
	d.mu.Lock()
	d.envs = append(d.envs, env)
	d.mu.Unlock()
	return 1
}

func newNode(t *testing.T, bus *loopBus, id string, identity *memIdentity) *chat.Router {
	t.Helper()
	reg, err := presence.NewRegistry(identity, presence.Config{NodeID: id})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	relay, err := NewRoomRelay(bus, id, RelayConf{})
	if err != nil {
		t.Fatalf("NewRoomRelay: %v", err)
	}
	cm := chat.NewConnManager(chat.ManagerConf{SweepEvery: time.Hour}, id)
	router := chat.NewRouter(cm, reg, nil, chat.RouterConf{NodeID: id}, chat.WithRelay(relay))
	reg.SetBroadcaster(router)
	if err := relay.Attach(router); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() {
		router.Close()
		reg.Close()
		relay.Close()
	})
	return router
}

func frames(t *testing.T, c *chat.Client) []chat.Frame {
	t.Helper()
	var out []chat.Frame
	for {
		select {
		case b, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var f chat.Frame
			if err := json.Unmarshal(b, &f); err != nil {
				t.Fatalf("bad frame: %s", b)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func countEvent(fs []chat.Frame, event string) int {
	n := 0
	for _, f := range fs {
		if f.Event == event {
			n++
		}
	}
	return n
}

func TestRelayAcrossNodes(t *testing.T) {
	bus := &loopBus{}
	identity := &memIdentity{flags: map[string]bool{}}
	n1 := newNode(t, bus, "gw-1", identity)
	n2 := newNode(t, bus, "gw-2", identity)
	ctx := context.Background()

	b, _ := n2.Open("test", nil)
	if err := n2.Announce(ctx, b, chat.AnnounceEvent{UserID: "B"}); err != nil {
		t.Fatalf("announce B: %v", err)
	}
	frames(t, b)

	a, _ := n1.Open("test", nil)
	if err := n1.Announce(ctx, a, chat.AnnounceEvent{UserID: "A"}); err != nil {
		t.Fatalf("announce A: %v", err)
	}
	fs := frames(t, b)
	if countEvent(fs, chat.EventUserStatus) != 1 || countEvent(fs, chat.EventOnlineUsers) != 1 {
		t.Fatalf("B on gw-2 got %v", fs)
	}
	// 自己节点发出的帧不会回环重复投递
	if fs := frames(t, a); countEvent(fs, chat.EventUserStatus) != 1 {
		t.Fatalf("A got %d status frames", countEvent(fs, chat.EventUserStatus))
	}

	msg := &model.PopulatedMessage{
		ID:      "m1",
		Sender:  model.UserRef{ID: "A"},
		Content: "hi",
		Chat:    model.ChatRef{ID: "c1", Users: []model.UserRef{{ID: "A"}, {ID: "B"}}},
	}
	if err := n1.RelayPersisted(ctx, msg); err != nil {
		t.Fatalf("RelayPersisted: %v", err)
	}
	fs = frames(t, b)
	if countEvent(fs, chat.EventMessageReceived) != 1 {
		t.Fatalf("B frames = %v", fs)
	}
	if len(frames(t, a)) != 0 {
		t.Fatalf("sender received its own message")
	}
}

func TestRelaySkipsOwnNodeAndMalformed(t *testing.T) {
	bus := &loopBus{}
	relay, _ := NewRoomRelay(bus, "gw-1", RelayConf{})
	defer relay.Close()
	dst := &countingDeliverer{}
	h := relay.handler(dst)
	ctx := context.Background()

	env, _ := json.Marshal(chat.RoomEnvelope{Event: chat.EventTyping, Room: "c1", Frame: json.RawMessage(`{"event":"typing"}`)})
	_ = h(ctx, NatsxMessage{Data: env, Header: map[string]string{HeaderOrigin: "gw-1"}})
	_ = h(ctx, NatsxMessage{Data: []byte("{oops"), Header: map[string]string{HeaderOrigin: "gw-2"}})
	_ = h(ctx, NatsxMessage{Data: []byte(`{"event":""}`), Header: map[string]string{HeaderOrigin: "gw-2"}})
	if len(dst.envs) != 0 {
		t.Fatalf("delivered %v", dst.envs)
	}
	_ = h(ctx, NatsxMessage{Data: env, Header: map[string]string{"x-talkify-node": "gw-2"}})
	if len(dst.envs) != 1 || dst.envs[0].Room != "c1" {
		t.Fatalf("delivered %v", dst.envs)
	}
}

func TestRelayRetriesWithSameMsgID(t *testing.T) {
	bus := &loopBus{fail: 1}
	relay, _ := NewRoomRelay(bus, "gw-1", RelayConf{Retries: 2, Backoff: time.Millisecond})
	defer relay.Close()

	env := chat.RoomEnvelope{Event: chat.EventUserStatus, Frame: json.RawMessage(`{}`)}
	if err := relay.PublishRoom(context.Background(), env); err != nil {
		t.Fatalf("PublishRoom: %v", err)
	}
	if bus.calls != 2 || len(bus.ids) != 1 || bus.ids[0] == "" {
		t.Fatalf("calls=%d ids=%v", bus.calls, bus.ids)
	}

	bus.fail = 5
	if err := relay.PublishRoom(context.Background(), env); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestIdemMiddlewareDropsDuplicates(t *testing.T) {
	store := NewMemIdem(time.Minute)
	defer store.Close()
	var n int
	h := NatsxChain(func(context.Context, NatsxMessage) error { n++; return nil },
		NatsxIdemMiddleware(store, 0))

	msg := NatsxMessage{Header: map[string]string{HeaderMsgID: "x"}}
	_ = h(context.Background(), msg)
	_ = h(context.Background(), msg)
	_ = h(context.Background(), NatsxMessage{})
	_ = h(context.Background(), NatsxMessage{})
	if n != 3 {
		t.Fatalf("handled %d", n)
	}
}

func TestMemIdemExpires(t *testing.T) {
	store := NewMemIdem(time.Second)
	defer store.Close()
	now := time.Unix(100, 0)
	store.now = func() time.Time { return now }

	if seen, _ := store.SeenOnce("k", 0); seen {
		t.Fatalf("first sighting reported seen")
	}
	if seen, _ := store.SeenOnce("k", 0); !seen {
		t.Fatalf("duplicate not detected")
	}
	now = now.Add(2 * time.Second)
	if n := store.gc(); n != 1 {
		t.Fatalf("gc removed %d", n)
	}
	if seen, _ := store.SeenOnce("k", 0); seen {
		t.Fatalf("expired key still seen")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := NatsxChain(func(context.Context, NatsxMessage) error { panic("boom") }, NatsxRecover("test"))
	if err := h(context.Background(), NatsxMessage{}); err == nil {
		t.Fatalf("panic not converted")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("JetStream") != JetStreamPush || ParseMode("") != Core || ParseMode("core") != Core {
		t.Fatalf("ParseMode mismatch")
	}
	r := RelayConf{}.Route()
	if r.Queue != "" || r.Subject == "" || r.Biz != BizRoomRelay {
		t.Fatalf("route = %+v", r)
	}
}
