package chat

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"talkify/tools/errs"
)

type fakeClock struct{ now atomic.Value }

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.now.Store(t)
	return c
}

func (c *fakeClock) Now() time.Time          { return c.now.Load().(time.Time) }
func (c *fakeClock) Advance(d time.Duration) { c.now.Store(c.Now().Add(d)) }

func TestConnManagerIndexes(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw")
	defer m.Close()

	c1, err := m.Add("c1", "r", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := m.Add("c1", "r", nil); err == nil {
		t.Fatalf("duplicate conn id accepted")
	}
	c2, _ := m.Add("c2", "r", nil)

	if prev, err := m.BindUser("c1", "u"); err != nil || prev != "" {
		t.Fatalf("BindUser: %q %v", prev, err)
	}
	_, _ = m.BindUser("c2", "u")
	if m.UserConnCount("u") != 2 {
		t.Fatalf("user conns = %d", m.UserConnCount("u"))
	}
	if len(m.RoomClients("u")) != 2 {
		t.Fatalf("personal room size = %d", len(m.RoomClients("u")))
	}
	if added, _ := m.Join("c1", "room"); !added {
		t.Fatalf("first join not reported")
	}
	if added, _ := m.Join("c1", "room"); added {
		t.Fatalf("second join reported as new")
	}

	user, ok := m.Remove("c1")
	if !ok || user != "u" {
		t.Fatalf("Remove = %q %v", user, ok)
	}
	if len(m.RoomClients("room")) != 0 {
		t.Fatalf("room not cleaned")
	}
	if rc := m.RoomClients("u"); len(rc) != 1 || rc[0] != c2 {
		t.Fatalf("personal room = %v", rc)
	}
	if m.UserConnCount("u") != 1 || m.Count() != 1 {
		t.Fatalf("counts user=%d total=%d", m.UserConnCount("u"), m.Count())
	}
	if _, ok := m.Remove("c1"); ok {
		t.Fatalf("double remove")
	}
	if _, err := m.Join("c1", "room"); !errors.Is(err, errs.ErrConnectionNotFound) {
		t.Fatalf("join on removed conn: %v", err)
	}
	_ = c1
}

func TestConnManagerRebind(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw")
	defer m.Close()

	c, _ := m.Add("c1", "r", nil)
	_, _ = m.BindUser("c1", "a")
	_, _ = m.Join("c1", "chat1")
	prev, err := m.BindUser("c1", "b")
	if err != nil || prev != "a" {
		t.Fatalf("rebind: %q %v", prev, err)
	}
	if c.InRoom("a") || c.InRoom("chat1") || !c.InRoom("b") || m.UserConnCount("a") != 0 {
		t.Fatalf("rooms=%v a-conns=%d", c.Rooms(), m.UserConnCount("a"))
	}
	if n := len(m.RoomClients("chat1")); n != 0 {
		t.Fatalf("chat1 still lists %d conns", n)
	}

	// 同一用户重复绑定不动已加入的房间
	_, _ = m.Join("c1", "chat2")
	_, _ = m.BindUser("c1", "b")
	if !c.InRoom("chat2") {
		t.Fatalf("same-user rebind dropped rooms: %v", c.Rooms())
	}
}

func TestBindAfterDisconnect(t *testing.T) {
	m := NewConnManager(ManagerConf{SweepEvery: time.Hour}, "gw")
	defer m.Close()

	c, _ := m.Add("c1", "r", nil)
	c.markDisconnected()
	if _, err := m.BindUser("c1", "a"); !errors.Is(err, errs.ErrConnectionClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}

func TestSweepKicksIdleConnections(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	m := NewConnManager(ManagerConf{
		UnannouncedTTL: time.Minute,
		IdleTTL:        5 * time.Minute,
		SweepEvery:     time.Hour,
		Clock:          clock.Now,
	}, "gw")
	defer m.Close()

	var kicked atomic.Int32
	kick := func() { kicked.Add(1) }
	_, _ = m.Add("unbound", "r", kick)
	_, _ = m.Add("bound", "r", kick)
	_, _ = m.BindUser("bound", "u")

	clock.Advance(30 * time.Second)
	if n := m.sweepOnce(clock.Now()); n != 0 {
		t.Fatalf("swept %d too early", n)
	}
	clock.Advance(time.Minute)
	if n := m.sweepOnce(clock.Now()); n != 1 {
		t.Fatalf("swept %d, want the unannounced one", n)
	}

	m.Heartbeat("bound")
	clock.Advance(4 * time.Minute)
	m.Remove("unbound")
	if n := m.sweepOnce(clock.Now()); n != 0 {
		t.Fatalf("swept live connection")
	}
	clock.Advance(2 * time.Minute)
	if n := m.sweepOnce(clock.Now()); n != 1 {
		t.Fatalf("idle connection not swept")
	}
	if kicked.Load() != 2 {
		t.Fatalf("kicked = %d", kicked.Load())
	}
}

func TestEnqueueAfterCloseDrops(t *testing.T) {
	c := newClient("c", "r", 1, time.Now(), nil)
	if !c.enqueue([]byte("a")) {
		t.Fatalf("first enqueue failed")
	}
	if c.enqueue([]byte("b")) {
		t.Fatalf("full queue accepted frame")
	}
	c.closeQueue()
	c.closeQueue()
	if c.enqueue([]byte("c")) {
		t.Fatalf("closed queue accepted frame")
	}
}
