package nacos

import (
	"context"
	"sync"

	"talkify/logger"
	"talkify/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigSource config_client.IConfigClient 的子集
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// Watcher 拉取一次并监听某个 dataId，变化时回调
type Watcher struct {
	src    ConfigSource
	dataID string
	group  string

	mu      sync.RWMutex
	current string
}

func NewWatcher(src ConfigSource, dataID, group string) *Watcher {
	if group == "" {
		group = "DEFAULT_GROUP"
	}
	return &Watcher{src: src, dataID: dataID, group: group}
}

// Load 同步拉取当前内容
func (w *Watcher) Load() (string, error) {
	content, err := w.src.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return "", errs.WrapMsg(err, "nacos get config", "dataId", w.dataID, "group", w.group)
	}
	w.update(content)
	return content, nil
}

// Watch 注册监听，ctx 结束时取消；onChange 在 SDK 的回调协程里执行
func (w *Watcher) Watch(ctx context.Context, onChange func(content string)) error {
	err := w.src.ListenConfig(vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(_, group, dataId, data string) {
			logger.Info("[Nacos] config changed", zap.String("dataId", dataId), zap.String("group", group))
			w.update(data)
			if onChange != nil {
				onChange(data)
			}
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.dataID)
	}
	go func() {
		<-ctx.Done()
		_ = w.src.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	}()
	return nil
}

func (w *Watcher) update(data string) {
	w.mu.Lock()
	w.current = data
	w.mu.Unlock()
}

func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
