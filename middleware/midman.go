package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

type named struct {
	name string
	h    gin.HandlerFunc
}

// MiddlewareManager 运行期可增删的全局中间件链，挂到 Engine 上只需 Use() 一次
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []named
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add 同名替换，否则追加到末尾
func (m *MiddlewareManager) Add(name string, h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids[i].h = h
			return
		}
	}
	m.mids = append(m.mids, named{name: name, h: h})
}

func (m *MiddlewareManager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mids {
		if m.mids[i].name == name {
			m.mids = append(m.mids[:i], m.mids[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MiddlewareManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.mids))
	for _, n := range m.mids {
		out = append(out, n.name)
	}
	return out
}

// Use 返回总控 handler；每个请求拿一份快照依次执行
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		snap := append([]named(nil), m.mids...)
		m.mu.RUnlock()

		for _, n := range snap {
			n.h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
