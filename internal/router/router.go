package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/strategy"
)

// Source 标记响应来自哪里，写入 X-Edge-Source 响应头。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// ErrNotIntercepted 表示请求不属于路由器接管范围（非 GET 或非 http/https）。
var ErrNotIntercepted = errors.New("request not intercepted")

// Result 是一次分发的结果。
type Result struct {
	Response *cache.Response
	Strategy strategy.Kind
	Source   Source
}

// Options 描述 Router 的依赖。
type Options struct {
	Fetcher Fetcher
	Static  cache.Partition
	Dynamic cache.Partition
	Rules   strategy.Rules
	// OfflineURL 为离线页的完整缓存键，通常是主站点上游地址 + /offline.html。
	OfflineURL string
	Logger     *logrus.Logger
}

// Router 持有规则表与两个分区，按请求选择策略并执行。
type Router struct {
	fetcher    Fetcher
	static     cache.Partition
	dynamic    cache.Partition
	rules      strategy.Rules
	offlineURL string
	logger     *logrus.Entry

	inflight singleflight.Group
	tasks    sync.WaitGroup
}

// New 校验依赖并构造 Router。
func New(opts Options) (*Router, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if !opts.Static.Enabled() || !opts.Dynamic.Enabled() {
		return nil, cache.ErrStoreUnavailable
	}
	return &Router{
		fetcher:    opts.Fetcher,
		static:     opts.Static,
		dynamic:    opts.Dynamic,
		rules:      opts.Rules,
		offlineURL: opts.OfflineURL,
		logger:     logging.Component(opts.Logger, "router"),
	}, nil
}

// Select 返回请求将使用的策略。
func (r *Router) Select(req *Request) strategy.Kind {
	return r.rules.Match(req.Key())
}

// Rules 返回当前规则表副本，供诊断接口输出。
func (r *Router) Rules() strategy.Rules {
	return append(strategy.Rules(nil), r.rules...)
}

// Serve 按策略处理一次可拦截请求；不可拦截的请求返回 ErrNotIntercepted。
// 返回 error 代表既无网络结果也无兜底可用。
func (r *Router) Serve(ctx context.Context, req *Request) (*Result, error) {
	if !Intercepts(req) {
		return nil, ErrNotIntercepted
	}
	kind := r.Select(req)

	var (
		result *Result
		err    error
	)
	switch kind {
	case strategy.NetworkFirst:
		result, err = r.networkFirst(ctx, req)
	case strategy.CacheFirst:
		result, err = r.cacheFirst(ctx, req)
	default:
		kind = strategy.StaleWhileRevalidate
		result, err = r.staleWhileRevalidate(ctx, req)
	}
	if err != nil {
		StrategyFailures.WithLabelValues(string(kind)).Inc()
		return nil, fmt.Errorf("%s %s: %w", kind, req.Key(), err)
	}
	result.Strategy = kind
	RequestsTotal.WithLabelValues(string(kind), string(result.Source)).Inc()
	return result, nil
}

// Passthrough 直接回源且不触碰缓存，用于未激活阶段与不可拦截的请求。
func (r *Router) Passthrough(ctx context.Context, req *Request) (*Result, error) {
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, Source: SourcePassthrough}, nil
}

// Wait 阻塞直到所有后台刷新结束。
func (r *Router) Wait() {
	r.tasks.Wait()
}

func (r *Router) networkFirst(ctx context.Context, req *Request) (*Result, error) {
	partition := r.partitionFor(strategy.NetworkFirst)
	resp, fetchErr := r.fetch(ctx, strategy.NetworkFirst, req)
	if fetchErr == nil && resp.OK() {
		r.store(ctx, partition, req, resp)
		return &Result{Response: resp, Source: SourceNetwork}, nil
	}

	cached, err := r.match(ctx, partition, req.Key())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return &Result{Response: cached, Source: SourceCache}, nil
	}

	if req.AcceptsHTML() {
		return &Result{Response: r.offline(ctx), Source: SourceOffline}, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	// 上游返回了非 2xx 且没有缓存兜底，原样透传上游响应。
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

func (r *Router) cacheFirst(ctx context.Context, req *Request) (*Result, error) {
	partition := r.partitionFor(strategy.CacheFirst)
	cached, err := r.match(ctx, partition, req.Key())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		r.refresh(partition, req)
		return &Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := r.fetch(ctx, strategy.CacheFirst, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		r.store(ctx, partition, req, resp)
	}
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

func (r *Router) staleWhileRevalidate(ctx context.Context, req *Request) (*Result, error) {
	partition := r.partitionFor(strategy.StaleWhileRevalidate)
	cached, err := r.match(ctx, partition, req.Key())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		r.refresh(partition, req)
		return &Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := r.fetch(ctx, strategy.StaleWhileRevalidate, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		r.store(ctx, partition, req, resp)
	}
	return &Result{Response: resp, Source: SourceNetwork}, nil
}

// partitionFor 按注册表中策略声明的分区角色返回读写分区，未注册的策略落在动态分区。
func (r *Router) partitionFor(kind strategy.Kind) cache.Partition {
	if meta, ok := strategy.Resolve(kind); ok && meta.Store == strategy.StoreStatic {
		return r.static
	}
	return r.dynamic
}

// match 将 ErrNotFound 折叠为 (nil, nil)，其余错误原样返回。
func (r *Router) match(ctx context.Context, partition cache.Partition, key string) (*cache.Response, error) {
	resp, err := partition.Match(ctx, key)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, cache.ErrNotFound):
		return nil, nil
	default:
		StoreErrors.WithLabelValues("match").Inc()
		return nil, err
	}
}

// store 把网络响应写入共享分区并报告是否写入。
// 带 Set-Cookie 或 private/no-store 的响应、以及带凭据请求得到的非 public 响应只返回给当前客户端；
// 写入失败只记录日志，不影响已取得的网络响应。
func (r *Router) store(ctx context.Context, partition cache.Partition, req *Request, resp *cache.Response) bool {
	key := req.Key()
	if reason := bypassReason(req, resp); reason != "" {
		CacheBypasses.WithLabelValues(reason).Inc()
		r.logger.WithFields(logging.StoreFields("cache_bypass", partition.Name(), key)).
			WithField("reason", reason).
			Debug("cache_bypass")
		return false
	}
	if err := partition.Put(ctx, key, resp); err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		r.logger.WithError(err).
			WithFields(logging.StoreFields("cache_put", partition.Name(), key)).
			Warn("cache_put_failed")
		return false
	}
	return true
}

func bypassReason(req *Request, resp *cache.Response) string {
	if reason := resp.BypassReason(); reason != "" {
		return reason
	}
	if req.HasCredentials() && !resp.Public() {
		return cache.BypassCredentials
	}
	return ""
}

func (r *Router) fetch(ctx context.Context, kind strategy.Kind, req *Request) (*cache.Response, error) {
	started := time.Now()
	resp, err := r.fetcher.Fetch(ctx, req)
	UpstreamDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	return resp, err
}

// refresh 在独立 goroutine 中回源并写入分区，失败时静默放弃；同一 (分区, URL) 正在刷新时直接复用。
func (r *Router) refresh(partition cache.Partition, req *Request) {
	flightKey := partition.Name() + "|" + req.Key()
	snapshot := cloneRequest(req)

	r.tasks.Go(func() {
		_, _, _ = r.inflight.Do(flightKey, func() (any, error) {
			ctx := context.Background()
			resp, err := r.fetcher.Fetch(ctx, snapshot)
			if err != nil {
				BackgroundRefreshes.WithLabelValues("failed").Inc()
				r.logger.WithError(err).
					WithFields(logging.StoreFields("background_refresh", partition.Name(), snapshot.Key())).
					Debug("background_refresh_failed")
				return nil, nil
			}
			if !resp.OK() || !r.store(ctx, partition, snapshot, resp) {
				BackgroundRefreshes.WithLabelValues("skipped").Inc()
				return nil, nil
			}
			BackgroundRefreshes.WithLabelValues("stored").Inc()
			return nil, nil
		})
	})
}

// offline 依次在 static、dynamic 分区查找离线页，都没有时返回内置页面。
func (r *Router) offline(ctx context.Context) *cache.Response {
	if r.offlineURL != "" {
		for _, partition := range []cache.Partition{r.static, r.dynamic} {
			resp, err := r.match(ctx, partition, r.offlineURL)
			if err != nil {
				r.logger.WithError(err).
					WithFields(logging.StoreFields("offline_lookup", partition.Name(), r.offlineURL)).
					Warn("offline_lookup_failed")
				continue
			}
			if resp != nil {
				return resp
			}
		}
	}
	return builtinOfflinePage()
}

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body><h1>You are offline</h1><p>Please check your connection and try again.</p></body>
</html>
`

func builtinOfflinePage() *cache.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: header,
		Body:   []byte(offlineHTML),
	}
}

// cloneRequest 为后台刷新复制请求：不持有调用方可能复用的 Header/Body，
// 并去掉 Cookie/Authorization，刷新结果以匿名身份写入共享分区。
func cloneRequest(req *Request) *Request {
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, key := range credentialHeaders {
		header.Del(key)
	}
	cloned := &Request{Method: http.MethodGet, Header: header}
	if req.URL != nil {
		u := *req.URL
		cloned.URL = &u
	}
	return cloned
}
