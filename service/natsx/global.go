package natsx

import (
	"sync"

	"talkify/logger"

	"go.uber.org/zap"
)

var (
	mu        sync.Mutex
	globalMgr *NatsManager
)

// StartNats 启动全局 NATS，重复调用返回同一个实例
func StartNats(cfg NatsxConfig, mws ...NatsxMiddleware) (*NatsManager, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalMgr != nil {
		return globalMgr, nil
	}
	mws = append([]NatsxMiddleware{NatsxRecover("natsx")}, mws...)
	mgr, err := NewNatsManager(cfg, mws...)
	if err != nil {
		return nil, err
	}
	globalMgr = mgr
	logger.Info("[NATS] manager started", zap.Strings("servers", cfg.Servers), zap.String("name", cfg.Name))
	return mgr, nil
}

// StopNats 优雅关闭
func StopNats() error {
	mu.Lock()
	defer mu.Unlock()
	if globalMgr == nil {
		return nil
	}
	err := globalMgr.Close()
	globalMgr = nil
	return err
}

// GetNatsManager 未启动时返回 nil
func GetNatsManager() *NatsManager {
	mu.Lock()
	defer mu.Unlock()
	return globalMgr
}
