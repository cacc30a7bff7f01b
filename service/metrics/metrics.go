package metrics

import (
	"sync"

	"talkify/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkify_ws_connections",
		Help: "Live websocket connections on this node.",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "talkify_presence_online_users",
		Help: "Size of the reconciled online-user set.",
	})
	PresenceWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkify_presence_writes_total",
		Help: "isOnline flag writes by direction and result.",
	}, []string{"status", "result"})
	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkify_inbound_events_total",
		Help: "Client events by name and outcome.",
	}, []string{"event", "outcome"})
	OutboundFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkify_outbound_frames_total",
		Help: "Frames queued to sessions by event name.",
	}, []string{"event"})
	DroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talkify_dropped_frames_total",
		Help: "Frames dropped because a session queue was full or closed.",
	})
	RelayEnvelopes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkify_relay_envelopes_total",
		Help: "Cross-node room envelopes by direction and result.",
	}, []string{"direction", "result"})
	PresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talkify_presence_events_total",
		Help: "Presence change events handed to the event bus.",
	}, []string{"result"})
)

var (
	regOnce  sync.Once
	Registry = prometheus.NewRegistry()
)

// Register 注册全部指标，重复调用无副作用
func Register() *prometheus.Registry {
	regOnce.Do(func() {
		Registry.MustRegister(Connections, OnlineUsers, PresenceWrites, InboundEvents, OutboundFrames, DroppedFrames,
			RelayEnvelopes, PresenceEvents)
		Registry.MustRegister(logger.Collectors()...)
		Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	return Registry
}
