package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"talkify/tools/errs"
)

type fakeStore struct {
	mu     sync.Mutex
	flags  map[string]bool
	broken bool
	// 记录同一用户的并发写入数，用来断言串行
	inflight map[string]int
	overlap  bool
	delay    time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{flags: map[string]bool{}, inflight: map[string]int{}}
}

func (s *fakeStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *fakeStore) FindOnlineUsers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, errors.New("connection refused")
	}
	var out []string
	for id, on := range s.flags {
		if on {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) SetOnlineFlag(ctx context.Context, userID string, online bool) error {
	s.mu.Lock()
	if s.broken {
		s.mu.Unlock()
		return errors.New("connection refused")
	}
	s.inflight[userID]++
	if s.inflight[userID] > 1 {
		s.overlap = true
	}
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.flags[userID] = online
	s.inflight[userID]--
	s.mu.Unlock()
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) BroadcastUserStatus(userID, status string) {
	r.mu.Lock()
	r.events = append(r.events, "status:"+userID+":"+status)
	r.mu.Unlock()
}

func (r *recorder) BroadcastOnlineUsers(userIDs []string) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf("snapshot:%v", userIDs))
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type chanPublisher struct {
	ch chan ChangeEvent
}

func (p *chanPublisher) PublishPresenceChange(_ context.Context, ev ChangeEvent) error {
	p.ch <- ev
	return nil
}

func newTestRegistry(t *testing.T, store IdentityStore, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(store, Config{NodeID: "n1", StoreTimeout: time.Second}, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMarkOnlineOffline(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store)
	ctx := context.Background()

	if err := r.MarkOnline(ctx, "a"); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	if err := r.MarkOnline(ctx, "b"); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	if err := r.MarkOffline(ctx, "a"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	got, err := r.CurrentOnlineUsers(ctx)
	if err != nil {
		t.Fatalf("CurrentOnlineUsers: %v", err)
	}
	if !equal(got, []string{"b"}) {
		t.Fatalf("online = %v, want [b]", got)
	}
	if r.IsOnline("a") || !r.IsOnline("b") {
		t.Fatalf("cache out of sync")
	}
}

func TestMarkOnlineIdempotent(t *testing.T) {
	store := newFakeStore()
	rec := &recorder{}
	r := newTestRegistry(t, store, WithBroadcaster(rec))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.MarkOnline(ctx, "a"); err != nil {
			t.Fatalf("MarkOnline #%d: %v", i, err)
		}
	}
	got, _ := r.CurrentOnlineUsers(ctx)
	if !equal(got, []string{"a"}) {
		t.Fatalf("online = %v", got)
	}
	// 只有第一次是状态变化
	if ev := rec.all(); len(ev) != 1 || ev[0] != "status:a:online" {
		t.Fatalf("events = %v", ev)
	}
}

func TestEmptyUserRejected(t *testing.T) {
	r := newTestRegistry(t, newFakeStore())
	if err := r.MarkOnline(context.Background(), "  "); !errors.Is(err, errs.ErrMalformedEvent) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestPersistFailureLeavesSetUntouched(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store)
	ctx := context.Background()

	store.setBroken(true)
	err := r.MarkOnline(ctx, "a")
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if r.IsOnline("a") {
		t.Fatalf("a cached after failed write")
	}
	store.setBroken(false)

	got, err := r.CurrentOnlineUsers(ctx)
	if err != nil {
		t.Fatalf("CurrentOnlineUsers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("online = %v, want empty", got)
	}

	if err := r.MarkOnline(ctx, "a"); err != nil {
		t.Fatalf("MarkOnline after recovery: %v", err)
	}
	got, _ = r.CurrentOnlineUsers(ctx)
	if !equal(got, []string{"a"}) {
		t.Fatalf("online = %v, want [a]", got)
	}
}

func TestReconcileFailureKeepsCache(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store)
	ctx := context.Background()
	_ = r.MarkOnline(ctx, "a")

	store.setBroken(true)
	if _, err := r.CurrentOnlineUsers(ctx); !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !r.IsOnline("a") {
		t.Fatalf("cache dropped on failed reconcile")
	}
}

func TestReconcilePicksUpExternalWrites(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store)
	ctx := context.Background()
	_ = r.MarkOnline(ctx, "a")

	// 其他节点直接改了存储
	store.mu.Lock()
	store.flags["a"] = false
	store.flags["z"] = true
	store.mu.Unlock()

	got, err := r.CurrentOnlineUsers(ctx)
	if err != nil {
		t.Fatalf("CurrentOnlineUsers: %v", err)
	}
	if !equal(got, []string{"z"}) {
		t.Fatalf("online = %v, want [z]", got)
	}
	if r.IsOnline("a") {
		t.Fatalf("stale entry survived reconcile")
	}
}

func TestConcurrentInterleavingsMatchStore(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistry(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		uid := fmt.Sprintf("u%d", u)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					_ = r.MarkOnline(ctx, uid)
				} else {
					_ = r.MarkOffline(ctx, uid)
				}
			}(i)
		}
	}
	wg.Wait()

	got, err := r.CurrentOnlineUsers(ctx)
	if err != nil {
		t.Fatalf("CurrentOnlineUsers: %v", err)
	}
	var want []string
	store.mu.Lock()
	for id, on := range store.flags {
		if on {
			want = append(want, id)
		}
	}
	store.mu.Unlock()
	sort.Strings(want)
	if !equal(got, want) {
		t.Fatalf("online = %v, store = %v", got, want)
	}
	for u := 0; u < 8; u++ {
		uid := fmt.Sprintf("u%d", u)
		if r.IsOnline(uid) != store.flags[uid] {
			t.Fatalf("cache for %s disagrees with store", uid)
		}
	}
}

func TestWritesSerializedPerUser(t *testing.T) {
	store := newFakeStore()
	store.delay = 2 * time.Millisecond
	r := newTestRegistry(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.MarkOnline(ctx, "a")
			} else {
				_ = r.MarkOffline(ctx, "a")
			}
		}(i)
	}
	wg.Wait()

	store.mu.Lock()
	overlap := store.overlap
	store.mu.Unlock()
	if overlap {
		t.Fatalf("concurrent writes for the same user reached the store")
	}
	if n := r.writes.Size(); n != 0 {
		t.Fatalf("keyed locks leaked: %d", n)
	}
}

func TestBroadcastPresenceDeltaBeforeSnapshot(t *testing.T) {
	store := newFakeStore()
	rec := &recorder{}
	r := newTestRegistry(t, store)
	r.SetBroadcaster(rec)
	ctx := context.Background()

	if err := r.MarkOnline(ctx, "b"); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	if err := r.BroadcastPresence(ctx); err != nil {
		t.Fatalf("BroadcastPresence: %v", err)
	}
	ev := rec.all()
	if len(ev) != 2 || ev[0] != "status:b:online" || ev[1] != "snapshot:[b]" {
		t.Fatalf("events = %v", ev)
	}
}

func TestBroadcastPresenceSkippedOnFailure(t *testing.T) {
	store := newFakeStore()
	rec := &recorder{}
	r := newTestRegistry(t, store, WithBroadcaster(rec))
	store.setBroken(true)
	if err := r.BroadcastPresence(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if ev := rec.all(); len(ev) != 0 {
		t.Fatalf("events = %v", ev)
	}
}

func TestChangeEventsPublished(t *testing.T) {
	pub := &chanPublisher{ch: make(chan ChangeEvent, 4)}
	r := newTestRegistry(t, newFakeStore(), WithEventPublisher(pub))
	ctx := context.Background()

	_ = r.MarkOnline(ctx, "a")
	_ = r.MarkOnline(ctx, "a")
	_ = r.MarkOffline(ctx, "a")

	want := []string{StatusOnline, StatusOffline}
	for i, status := range want {
		select {
		case ev := <-pub.ch:
			if ev.UserID != "a" || ev.NodeID != "n1" || ev.Status != status {
				t.Fatalf("event %d = %+v", i, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not published", i)
		}
	}
	select {
	case ev := <-pub.ch:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyRemoteUpdatesCacheOnly(t *testing.T) {
	store := newFakeStore()
	rec := &recorder{}
	r, err := NewRegistry(store, Config{NodeID: "gw-1"}, WithBroadcaster(rec))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Close()

	if !r.ApplyRemote(ChangeEvent{UserID: "u", Status: StatusOnline, NodeID: "gw-2"}) {
		t.Fatalf("remote online not applied")
	}
	if !r.IsOnline("u") {
		t.Fatalf("cache not updated")
	}
	if r.ApplyRemote(ChangeEvent{UserID: "u", Status: StatusOnline, NodeID: "gw-2"}) {
		t.Fatalf("repeat reported as change")
	}
	if r.ApplyRemote(ChangeEvent{UserID: "u", Status: StatusOffline, NodeID: "gw-1"}) {
		t.Fatalf("own-node event applied")
	}
	if r.ApplyRemote(ChangeEvent{UserID: "u", Status: "away", NodeID: "gw-2"}) {
		t.Fatalf("unknown status applied")
	}
	if !r.ApplyRemote(ChangeEvent{UserID: "u", Status: StatusOffline, NodeID: "gw-2"}) || r.IsOnline("u") {
		t.Fatalf("remote offline not applied")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("remote events must not rebroadcast")
	}
}
