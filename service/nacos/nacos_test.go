package nacos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

type fakeSource struct {
	mu       sync.Mutex
	content  string
	err      error
	onChange func(namespace, group, dataId, data string)
	canceled chan struct{}
}

func (f *fakeSource) GetConfig(vo.ConfigParam) (string, error) { return f.content, f.err }

func (f *fakeSource) ListenConfig(p vo.ConfigParam) error {
	f.mu.Lock()
	f.onChange = p.OnChange
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) CancelListenConfig(vo.ConfigParam) error {
	close(f.canceled)
	return nil
}

func TestWatcherLoadAndChange(t *testing.T) {
	src := &fakeSource{content: "a: 1", canceled: make(chan struct{})}
	w := NewWatcher(src, "talkify.yaml", "")
	got, err := w.Load()
	if err != nil || got != "a: 1" || w.Current() != "a: 1" {
		t.Fatalf("Load = %q %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	if err := w.Watch(ctx, func(s string) { seen = append(seen, s) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	src.onChange("", "DEFAULT_GROUP", "talkify.yaml", "a: 2")
	if w.Current() != "a: 2" || len(seen) != 1 {
		t.Fatalf("current=%q seen=%v", w.Current(), seen)
	}
	cancel()
	select {
	case <-src.canceled:
	case <-time.After(time.Second):
		t.Fatalf("listener not canceled")
	}
}

func TestWatcherLoadError(t *testing.T) {
	w := NewWatcher(&fakeSource{err: errors.New("down")}, "x", "g")
	if _, err := w.Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestServerConfigs(t *testing.T) {
	sc, err := serverConfigs([]string{"127.0.0.1:8848", " ", "nacos:9000"})
	if err != nil || len(sc) != 2 || sc[1].Port != 9000 || sc[0].IpAddr != "127.0.0.1" {
		t.Fatalf("serverConfigs = %+v %v", sc, err)
	}
	if _, err := serverConfigs([]string{"nohost"}); err == nil {
		t.Fatalf("missing port accepted")
	}
	if _, err := serverConfigs(nil); err == nil {
		t.Fatalf("empty addrs accepted")
	}
}

type fakeNaming struct {
	regs  []vo.RegisterInstanceParam
	dereg int
	insts []model.Instance
}

func (f *fakeNaming) RegisterInstance(p vo.RegisterInstanceParam) (bool, error) {
	f.regs = append(f.regs, p)
	return true, nil
}

func (f *fakeNaming) DeregisterInstance(vo.DeregisterInstanceParam) (bool, error) {
	f.dereg++
	return true, nil
}

func (f *fakeNaming) SelectInstances(vo.SelectInstancesParam) ([]model.Instance, error) {
	return f.insts, nil
}

func TestRegistryLifecycle(t *testing.T) {
	nm := &fakeNaming{insts: []model.Instance{{Ip: "10.0.0.2", Port: 8080, Metadata: map[string]string{"nodeId": "gw-2"}}}}
	r := NewRegistry(nm, "talkify-gateway", "gw-1", "10.0.0.1", 8080)

	if err := r.Deregister(); err != nil || nm.dereg != 0 {
		t.Fatalf("deregister before register: %v %d", err, nm.dereg)
	}
	if err := r.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if nm.regs[0].Metadata["nodeId"] != "gw-1" || !nm.regs[0].Ephemeral {
		t.Fatalf("register param = %+v", nm.regs[0])
	}
	peers, err := r.Peers()
	if err != nil || len(peers) != 1 || peers[0].NodeID != "gw-2" || peers[0].Addr != "10.0.0.2:8080" {
		t.Fatalf("peers = %+v %v", peers, err)
	}
	if err := r.Deregister(); err != nil || nm.dereg != 1 {
		t.Fatalf("deregister: %v %d", err, nm.dereg)
	}
}
