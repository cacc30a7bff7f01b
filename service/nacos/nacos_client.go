package nacos

import (
	"net"
	"strconv"
	"strings"

	"talkify/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// Config 连接参数；Addrs 为空表示不启用 nacos
type Config struct {
	Addrs       []string `json:"addrs" yaml:"addrs" mapstructure:"addrs"` // host:port
	NamespaceID string   `json:"namespaceId" yaml:"namespaceId" mapstructure:"namespaceId"`
	Username    string   `json:"username" yaml:"username" mapstructure:"username"`
	Password    string   `json:"password" yaml:"password" mapstructure:"password"`
	TimeoutMs   uint64   `json:"timeoutMs" yaml:"timeoutMs" mapstructure:"timeoutMs"`
	LogLevel    string   `json:"logLevel" yaml:"logLevel" mapstructure:"logLevel"`
	CacheDir    string   `json:"cacheDir" yaml:"cacheDir" mapstructure:"cacheDir"`
	LogDir      string   `json:"logDir" yaml:"logDir" mapstructure:"logDir"`
	DataID      string   `json:"dataId" yaml:"dataId" mapstructure:"dataId"`
	Group       string   `json:"group" yaml:"group" mapstructure:"group"`
}

func (c Config) Enabled() bool { return len(c.Addrs) > 0 }

func (c Config) params() (vo.NacosClientParam, error) {
	servers, err := serverConfigs(c.Addrs)
	if err != nil {
		return vo.NacosClientParam{}, err
	}
	timeout := c.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	level := c.LogLevel
	if level == "" {
		level = "warn"
	}
	opts := []constant.ClientOption{
		constant.WithNamespaceId(c.NamespaceID),
		constant.WithTimeoutMs(timeout),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel(level),
	}
	if c.CacheDir != "" {
		opts = append(opts, constant.WithCacheDir(c.CacheDir))
	}
	if c.LogDir != "" {
		opts = append(opts, constant.WithLogDir(c.LogDir))
	}
	if c.Username != "" {
		opts = append(opts, constant.WithUsername(c.Username), constant.WithPassword(c.Password))
	}
	return vo.NacosClientParam{
		ClientConfig:  constant.NewClientConfig(opts...),
		ServerConfigs: servers,
	}, nil
}

// serverConfigs "host:port" -> ServerConfig
func serverConfigs(addrs []string) ([]constant.ServerConfig, error) {
	out := make([]constant.ServerConfig, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		host, port, err := net.SplitHostPort(a)
		if err != nil {
			return nil, errs.WrapMsg(err, "nacos addr", "addr", a)
		}
		p, err := strconv.ParseUint(port, 10, 64)
		if err != nil {
			return nil, errs.WrapMsg(err, "nacos port", "addr", a)
		}
		out = append(out, *constant.NewServerConfig(host, p))
	}
	if len(out) == 0 {
		return nil, errs.New("nacos addrs missing")
	}
	return out, nil
}

func NewConfigClient(c Config) (config_client.IConfigClient, error) {
	p, err := c.params()
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewConfigClient(p)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos config client")
	}
	return cli, nil
}

func NewNamingClient(c Config) (naming_client.INamingClient, error) {
	p, err := c.params()
	if err != nil {
		return nil, err
	}
	cli, err := clients.NewNamingClient(p)
	if err != nil {
		return nil, errs.WrapMsg(err, "create nacos naming client")
	}
	return cli, nil
}
