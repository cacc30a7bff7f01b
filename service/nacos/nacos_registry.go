package nacos

import (
	"strconv"
	"sync"

	"talkify/logger"
	"talkify/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Naming naming_client.INamingClient 的子集
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
	SelectInstances(param vo.SelectInstancesParam) ([]model.Instance, error)
}

// Peer 一个网关节点
type Peer struct {
	NodeID string `json:"nodeId"`
	Addr   string `json:"addr"`
}

// Registry 把本网关节点登记到 nacos，其他节点据此发现彼此
type Registry struct {
	ServiceName string
	Group       string
	IP          string
	Port        uint64
	NodeID      string

	mu         sync.Mutex
	registered bool
	client     Naming
}

func NewRegistry(client Naming, serviceName, nodeID, ip string, port uint64) *Registry {
	return &Registry{
		ServiceName: serviceName,
		Group:       "DEFAULT_GROUP",
		IP:          ip,
		Port:        port,
		NodeID:      nodeID,
		client:      client,
	}
}

func (r *Registry) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata: map[string]string{
			"protocol": "ws",
			"nodeId":   r.NodeID,
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName)
	}
	if !ok {
		return errs.New("nacos register returned false", "service", r.ServiceName)
	}
	r.registered = true
	logger.Info("[Nacos] instance registered", zap.String("service", r.ServiceName),
		zap.String("node", r.NodeID), zap.String("ip", r.IP), zap.Uint64("port", r.Port))
	return nil
}

func (r *Registry) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", r.ServiceName)
	}
	r.registered = false
	return nil
}

// Peers 健康的网关节点（含自己）
func (r *Registry) Peers() ([]Peer, error) {
	insts, err := r.client.SelectInstances(vo.SelectInstancesParam{
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		HealthyOnly: true,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "nacos select instances", "service", r.ServiceName)
	}
	out := make([]Peer, 0, len(insts))
	for _, in := range insts {
		out = append(out, Peer{
			NodeID: in.Metadata["nodeId"],
			Addr:   in.Ip + ":" + strconv.FormatUint(in.Port, 10),
		})
	}
	return out, nil
}
