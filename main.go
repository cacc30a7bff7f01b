package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkify/global"
	"talkify/global/config"
	"talkify/logger"
	"talkify/middleware"
	midsec "talkify/middleware/security"
	chatapi "talkify/module/chat/api"
	chatstore "talkify/module/chat/store"
	"talkify/module/user"
	userstore "talkify/module/user/store"
	"talkify/service/chat"
	"talkify/service/chat/handlers"
	"talkify/service/kafka"
	"talkify/service/metrics"
	mgoSrv "talkify/service/mgo"
	"talkify/service/natsx"
	"talkify/service/presence"
	"talkify/service/storage"
	"talkify/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Error("[Main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(ctx context.Context) error {
	c, err := config.Load(ctx)
	if err != nil {
		return err
	}
	config.ConfigLogger(c)
	config.ConfigIds(c)
	config.ConfigMgo(ctx, c)
	nodeID := c.Gateway.NodeID
	logger.Info("[Main] starting", zap.String("node", nodeID), zap.String("http", c.Server.HTTPAddr))

	users := userstore.NewUserStore(mgoSrv.TryGetDB)
	chats := chatstore.NewChatStore(mgoSrv.TryGetDB)

	// presence
	var regOpts []presence.Option
	pub, kcl, err := config.ConfigKafka(c)
	if err != nil {
		return err
	}
	if pub != nil {
		defer kcl.Close()
		defer pub.Close()
		regOpts = append(regOpts, presence.WithEventPublisher(pub))
	}
	reg, err := presence.NewRegistry(users, presence.Config{
		NodeID:         nodeID,
		StoreTimeout:   c.Presence.StoreTimeout,
		PublishPool:    c.Presence.PublishPool,
		PublishTimeout: c.Presence.PublishTimeout,
	}, regOpts...)
	if err != nil {
		return err
	}
	defer reg.Close()

	// router
	var routerOpts []chat.RouterOption
	rdb, err := config.ConfigRedis(ctx, c)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		idx, err := storage.NewRedisSessionIndex(rdb, storage.SessionIndexConfig{
			NodeID: nodeID,
			TTL:    c.Gateway.SessionTTL,
		})
		if err != nil {
			return err
		}
		routerOpts = append(routerOpts, chat.WithSessionIndex(idx))
	}

	var relay *natsx.RoomRelay
	nm, err := config.ConfigNats(c)
	if err != nil {
		return err
	}
	if nm != nil {
		defer natsx.StopNats()
		relay, err = natsx.NewRoomRelay(nm, nodeID, c.Relay)
		if err != nil {
			return err
		}
		defer relay.Close()
		routerOpts = append(routerOpts, chat.WithRelay(relay))
	}

	rconf := chat.RouterConf{NodeID: nodeID, RelayTimeout: c.Gateway.RelayTimeout}
	if c.Auth.AnnounceAuth && c.Auth.JWTSecret != "" {
		rconf.AnnounceAuth = security.DefaultOptions([]byte(c.Auth.JWTSecret))
	}
	cm := chat.NewConnManager(chat.ManagerConf{
		UnannouncedTTL: c.Gateway.UnannouncedTTL,
		IdleTTL:        c.Gateway.IdleTTL,
		SweepEvery:     c.Gateway.SweepEvery,
		SendQueue:      c.Gateway.SendQueue,
	}, nodeID)
	router := chat.NewRouter(cm, reg, chats, rconf, routerOpts...)
	defer router.Close()
	reg.SetBroadcaster(router)
	if relay != nil {
		if err := relay.Attach(router); err != nil {
			return err
		}
	}

	srv := chat.NewServer(router, chat.ServerConf{
		ReadLimit:     c.Server.ReadLimit,
		PingInterval:  c.Server.PingInterval,
		PongWait:      c.Server.PongWait,
		WriteWait:     c.Server.WriteWait,
		HandleTimeout: c.Server.HandleTimeout,
		RatePerSec:    c.Server.RatePerSec,
		RateBurst:     c.Server.RateBurst,
		CheckOrigin:   middleware.OriginChecker(c.Server.AllowedOrigins),
	})
	handlers.RegisterAll(srv)

	engine := newEngine(c, srv, router, chats, users)
	httpSrv := &http.Server{Addr: c.Server.HTTPAddr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	if c.Server.GRPCAddr != "" {
		g.Go(func() error { return serveHealth(gctx, c.Server.GRPCAddr) })
	}
	if rdb != nil {
		g.Go(func() error { return router.KeepSessions(gctx, c.Gateway.SessionRefresh) })
	}
	if pub != nil {
		g.Go(func() error {
			hs := kafka.NewHandlerRegistry()
			hs.RegisterAll(kafka.GenTopics(c.Kafka), kafka.PresenceEventHandler(reg))
			return kafka.RunConsumerGroup(gctx, c.Kafka, c.Kafka.GroupPrefix+nodeID, hs)
		})
	}

	naming, err := config.ConfigNaming(c)
	if err != nil {
		logger.Warn("[Main] nacos registration skipped", zap.Error(err))
	}
	if naming != nil {
		defer func() {
			if err := naming.Deregister(); err != nil {
				logger.Warn("[Main] nacos deregister failed", zap.Error(err))
			}
		}()
	}

	logger.Info("[Main] ready", zap.String("node", nodeID))
	return g.Wait()
}

func newEngine(c *config.AppConfig, srv *chat.Server, router *chat.Router,
	chats *chatstore.ChatStore, users *userstore.UserStore) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	mw := middleware.NewManager()
	mw.Add("recovery", gin.Recovery())
	mw.Add("access", middleware.AccessLog())
	mw.Add("origin", middleware.Origin(c.Server.AllowedOrigins))
	engine.Use(mw.Use())

	engine.GET(c.Server.WSPath, srv.HandleWS)
	engine.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, global.Success(gin.H{
			"node":        router.NodeID(),
			"connections": router.ConnMgr().Count(),
			"mongo":       mgoSrv.Err() == nil,
		}))
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Register(), promhttp.HandlerOpts{})))

	auth := midsec.Middleware(midsec.DefaultOptions([]byte(c.Auth.JWTSecret)))
	user.NewHandler(users).Register(engine, auth)
	chatapi.NewHandler(chats, router).Register(engine, auth)
	return engine
}

// serveHealth 给负载均衡用的 gRPC 健康检查
func serveHealth(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	go func() {
		<-ctx.Done()
		hs.Shutdown()
		gs.GracefulStop()
	}()
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
