package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"talkify/logger"
	"talkify/service/metrics"
	"talkify/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ---- 常量参数（建议值） ----
type ServerConf struct {
	ReadLimit     int64         // 单帧上限
	PingInterval  time.Duration // 服务端 ping 周期
	PongWait      time.Duration // 超过此时间没收到任何帧即断开
	WriteWait     time.Duration
	HandleTimeout time.Duration // 单个事件处理的超时（含存储调用）
	RatePerSec    float64       // 每连接入站事件速率（<=0 不限）
	RateBurst     int
	CheckOrigin   func(r *http.Request) bool
}

func (c *ServerConf) norm() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = 10 * time.Second
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 20
	}
}

type Server struct {
	router   *Router
	disp     *Dispatcher
	conf     ServerConf
	upgrader websocket.Upgrader
}

func NewServer(router *Router, conf ServerConf) *Server {
	conf.norm()
	check := conf.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	return &Server{
		router: router,
		disp:   NewDispatcher(),
		conf:   conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
	}
}

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) Router() *Router { return s.router }

// HandleWS gin 路由入口
func (s *Server) HandleWS(c *gin.Context) {
	s.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	var closeOnce sync.Once
	kick := func() {
		closeOnce.Do(func() { _ = ws.Close() })
	}
	client, err := s.router.Open(ws.RemoteAddr().String(), kick)
	if err != nil {
		logger.Warn("[HandleWS] register connection failed", zap.Error(err))
		kick()
		return
	}
	logger.Debug("[HandleWS] connection opened", zap.String("conn", client.ConnID), zap.String("remote", client.Remote))

	ws.SetReadLimit(s.conf.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		s.router.ConnMgr().Heartbeat(client.ConnID)
		return nil
	})

	done := make(chan struct{})
	safe.SafeGo("ws writer "+client.ConnID, func() {
		defer close(done)
		s.writePump(ws, client, kick)
	})

	s.readPump(ws, client)

	// ---- 退出阶段：同步摘除连接与房间，必要时标记离线 ----
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandleTimeout)
	if err := s.router.Disconnect(ctx, client); err != nil {
		logger.Warn("[HandleWS] disconnect", zap.String("conn", client.ConnID), zap.Error(err))
	}
	cancel()
	<-done // 等写协程发完 close 帧
	kick()
}

// readPump 只读不写；同一连接的事件按到达顺序处理
func (s *Server) readPump(ws *websocket.Conn, client *Client) {
	limit := rate.Inf
	if s.conf.RatePerSec > 0 {
		limit = rate.Limit(s.conf.RatePerSec)
	}
	limiter := rate.NewLimiter(limit, s.conf.RateBurst)

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				logger.Debug("[WS] peer closed", zap.String("conn", client.ConnID))
			case errors.As(rerr, &ne) && ne.Timeout():
				logger.Info("[WS] read timeout", zap.String("conn", client.ConnID))
			default:
				logger.Debug("[WS] read err", zap.String("conn", client.ConnID), zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		s.router.ConnMgr().Heartbeat(client.ConnID)

		if !limiter.Allow() {
			metrics.InboundEvents.WithLabelValues("any", "rate_limited").Inc()
			logger.Warn("[WS] rate limited, event dropped", zap.String("conn", client.ConnID))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.conf.HandleTimeout)
		err := s.disp.Dispatch(ctx, client, data)
		cancel()
		if err != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Info("[WS] event rejected", zap.String("conn", client.ConnID),
				zap.ByteString("sample", sample), zap.Error(err))
		}
	}
}

// writePump 唯一的写协程：业务帧优先，定时 ping；队列关闭即发 close 帧退出
func (s *Server) writePump(ws *websocket.Conn, client *Client, kick func()) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("[WS] write err", zap.String("conn", client.ConnID), zap.Error(err))
				kick()
				s.drain(client)
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.conf.WriteWait)); err != nil {
				logger.Debug("[WS] ping err", zap.String("conn", client.ConnID), zap.Error(err))
				kick()
				s.drain(client)
				return
			}
		}
	}
}

// drain 写失败后丢弃剩余帧，直到 Disconnect 关闭队列
func (s *Server) drain(client *Client) {
	for range client.Outbound() {
	}
}
