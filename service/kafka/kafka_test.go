package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"talkify/service/presence"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
)

func TestPresencePublisherSendsKeyedEvent(t *testing.T) {
	prod := mocks.NewSyncProducer(t, nil)
	prod.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev presence.ChangeEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.UserID != "u1" || ev.Status != presence.StatusOnline || ev.NodeID != "gw-1" {
			return errors.New("unexpected event")
		}
		return nil
	})
	prod.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub, err := NewPresencePublisher(prod, GenTopics(DefaultConfig()))
	if err != nil {
		t.Fatalf("NewPresencePublisher: %v", err)
	}
	ev := presence.ChangeEvent{UserID: "u1", Status: presence.StatusOnline, NodeID: "gw-1", At: time.Now()}
	if err := pub.PublishPresenceChange(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.PublishPresenceChange(context.Background(), ev); err == nil {
		t.Fatalf("expected broker error")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPresencePublisherHonoursContext(t *testing.T) {
	prod := mocks.NewSyncProducer(t, nil)
	pub, _ := NewPresencePublisher(prod, []string{"t"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.PublishPresenceChange(ctx, presence.ChangeEvent{UserID: "u"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	_ = pub.Close()
}

func TestSelectTopicByUserStable(t *testing.T) {
	topics := GenTopics(DefaultConfig())
	if len(topics) != 4 || topics[0] != "talkify.presence-00" {
		t.Fatalf("topics = %v", topics)
	}
	a := SelectTopicByUser("alice", topics)
	for i := 0; i < 10; i++ {
		if SelectTopicByUser("alice", topics) != a {
			t.Fatalf("topic selection not stable")
		}
	}
	if SelectTopicByUser("x", nil) != "" {
		t.Fatalf("empty topics should select nothing")
	}
}

type applier struct{ got []presence.ChangeEvent }

func (a *applier) ApplyRemote(ev presence.ChangeEvent) bool {
	a.got = append(a.got, ev)
	return true
}

func TestConsumerDispatchesPresenceEvents(t *testing.T) {
	dst := &applier{}
	reg := NewHandlerRegistry()
	reg.RegisterAll([]string{"p-00", "p-01"}, PresenceEventHandler(dst))
	h := NewConsumerGroupHandler(reg)

	body, _ := json.Marshal(presence.ChangeEvent{Status: presence.StatusOffline, NodeID: "gw-2"})
	h.dispatch(&sarama.ConsumerMessage{Topic: "p-01", Key: []byte("u7"), Value: body})
	h.dispatch(&sarama.ConsumerMessage{Topic: "p-00", Value: []byte("not json")})
	h.dispatch(&sarama.ConsumerMessage{Topic: "unknown", Value: body})

	if len(dst.got) != 1 || dst.got[0].UserID != "u7" || dst.got[0].Status != presence.StatusOffline {
		t.Fatalf("applied = %+v", dst.got)
	}
	if len(reg.Topics()) != 2 {
		t.Fatalf("topics = %v", reg.Topics())
	}
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	reg := NewHandlerRegistry()
	reg.Register("t", func(string, []byte, []byte) error { panic("boom") })
	NewConsumerGroupHandler(reg).dispatch(&sarama.ConsumerMessage{Topic: "t"})
}

// fakeAdmin 只实现 EnsureTopics 用到的方法
type fakeAdmin struct {
	sarama.ClusterAdmin
	existing map[string]int
	created  map[string]int32
	expanded map[string]int32
}

func (f *fakeAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	out := make([]*sarama.TopicMetadata, 0, len(topics))
	for _, t := range topics {
		n, ok := f.existing[t]
		if !ok {
			out = append(out, &sarama.TopicMetadata{Name: t, Err: sarama.ErrUnknownTopicOrPartition})
			continue
		}
		md := &sarama.TopicMetadata{Name: t, Err: sarama.ErrNoError}
		for i := 0; i < n; i++ {
			md.Partitions = append(md.Partitions, &sarama.PartitionMetadata{ID: int32(i)})
		}
		out = append(out, md)
	}
	return out, nil
}

func (f *fakeAdmin) CreateTopic(topic string, d *sarama.TopicDetail, _ bool) error {
	f.created[topic] = d.NumPartitions
	return nil
}

func (f *fakeAdmin) CreatePartitions(topic string, count int32, _ [][]int32, _ bool) error {
	f.expanded[topic] = count
	return nil
}

func TestEnsureTopics(t *testing.T) {
	admin := &fakeAdmin{
		existing: map[string]int{"a": 8, "b": 2},
		created:  map[string]int32{},
		expanded: map[string]int32{},
	}
	cfg := DefaultConfig()
	if err := EnsureTopics(admin, []string{"a", "b", "c"}, cfg); err != nil {
		t.Fatalf("EnsureTopics: %v", err)
	}
	if len(admin.created) != 1 || admin.created["c"] != cfg.PartitionsPerTopic {
		t.Fatalf("created = %v", admin.created)
	}
	if len(admin.expanded) != 1 || admin.expanded["b"] != cfg.PartitionsPerTopic {
		t.Fatalf("expanded = %v", admin.expanded)
	}
}

func TestBuildBaseConfig(t *testing.T) {
	c := DefaultConfig()
	c.ProducerCompression = "lz4"
	c.ConsumerInitialOffset = "oldest"
	c.Version = "bogus"
	sc := BuildBaseConfig(c)
	if sc.Producer.Compression != sarama.CompressionLZ4 || sc.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Fatalf("config = %+v", sc.Producer)
	}
	if sc.Version != sarama.V2_1_0_0 {
		t.Fatalf("version = %v", sc.Version)
	}
	if !sc.Producer.Return.Successes {
		t.Fatalf("sync producer needs Return.Successes")
	}
}
