package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mcnepal/edgecache/internal/config"
)

// HostRoute 将 Host 配置与解析后的上游地址聚合在一起，供代理层直接复用。
type HostRoute struct {
	// Config 是 config.toml 中 [[Host]] 字段的副本。
	Config config.HostConfig
	// ListenPort 记录当前监听端口，便于日志输出。
	ListenPort int
	// UpstreamURL 在构造 Registry 时提前解析完成。
	UpstreamURL *url.URL
	// Primary 标记第一个 Host，即同源站点；其余为放行的跨域上游。
	Primary bool
}

// Resolve 将请求路径与查询串拼接到上游地址，得到缓存键所用的完整 URL。
func (r *HostRoute) Resolve(path, rawQuery string) *url.URL {
	target := *r.UpstreamURL
	basePath := strings.TrimSuffix(target.Path, "/")
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target.Path = basePath + path
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

// HostRegistry 提供 Host/Host:port 到 HostRoute 的查询能力。
type HostRegistry struct {
	routes  map[string]*HostRoute
	ordered []*HostRoute
}

// NewHostRegistry 根据配置构建 Host 映射，启动阶段创建一次并复用。
func NewHostRegistry(cfg *config.Config) (*HostRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &HostRegistry{
		routes: make(map[string]*HostRoute, len(cfg.Hosts)),
	}

	for i, host := range cfg.Hosts {
		normalizedHost := normalizeDomain(host.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for host %s", host.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		upstreamURL, err := url.Parse(host.Upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream for host %s: %w", host.Name, err)
		}

		route := &HostRoute{
			Config:      host,
			ListenPort:  cfg.Global.ListenPort,
			UpstreamURL: upstreamURL,
			Primary:     i == 0,
		}
		registry.routes[normalizedHost] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 HostRoute。
func (r *HostRegistry) Lookup(host string) (*HostRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Primary 返回同源站点路由。
func (r *HostRegistry) Primary() (*HostRoute, bool) {
	if r == nil || len(r.ordered) == 0 {
		return nil, false
	}
	return r.ordered[0], true
}

// List 返回按配置顺序排列的路由副本，用于 /-/status 输出。
func (r *HostRegistry) List() []HostRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]HostRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
