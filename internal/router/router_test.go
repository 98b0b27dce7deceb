package router

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/strategy"
)

const (
	testStatic  = "mcnepal-static-v1.0.0"
	testDynamic = "mcnepal-dynamic-v1.0.0"
	siteBase    = "https://www.mcnepal.fun"
)

var errNetworkDown = errors.New("network down")

// stubFetcher 按 URL 返回预设响应，未配置的 URL 视为网络不可达。
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]*cache.Response
	calls     map[string]int
	sent      map[string]http.Header
	gate      chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		responses: make(map[string]*cache.Response),
		calls:     make(map[string]int),
		sent:      make(map[string]http.Header),
	}
}

func (f *stubFetcher) set(rawURL string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	f.responses[rawURL] = &cache.Response{URL: rawURL, Status: status, Header: header, Body: []byte(body)}
}

func (f *stubFetcher) setHeader(rawURL, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[rawURL].Header.Add(key, value)
}

func (f *stubFetcher) lastSent(rawURL string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[rawURL]
}

func (f *stubFetcher) fail(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.responses, rawURL)
}

func (f *stubFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *stubFetcher) Fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.Key()
	f.calls[key]++
	f.sent[key] = req.Header.Clone()
	resp, ok := f.responses[key]
	if !ok {
		return nil, errNetworkDown
	}
	return resp.Clone(), nil
}

type testEnv struct {
	store   cache.Store
	fetcher *stubFetcher
	router  *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	return newTestEnvWithStore(t, store)
}

func newTestEnvWithStore(t *testing.T, store cache.Store) *testEnv {
	t.Helper()
	fetcher := newStubFetcher()
	rt, err := New(Options{
		Fetcher:    fetcher,
		Static:     cache.NewPartition(store, testStatic),
		Dynamic:    cache.NewPartition(store, testDynamic),
		Rules:      strategy.NewRules([]string{"/api/", "https://api.mcsrvstat.us/"}, []string{"/assets/", "https://fonts.googleapis.com/"}),
		OfflineURL: siteBase + "/offline.html",
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("创建 router 失败: %v", err)
	}
	return &testEnv{store: store, fetcher: fetcher, router: rt}
}

func (e *testEnv) seed(t *testing.T, store, rawURL, body string) {
	t.Helper()
	if err := e.store.Put(context.Background(), store, rawURL, &cache.Response{Status: 200, Body: []byte(body)}); err != nil {
		t.Fatalf("预置缓存失败: %v", err)
	}
}

func (e *testEnv) cached(t *testing.T, store, rawURL string) string {
	t.Helper()
	resp, err := e.store.Get(context.Background(), store, rawURL)
	if errors.Is(err, cache.ErrNotFound) {
		return ""
	}
	if err != nil {
		t.Fatalf("读取缓存失败: %v", err)
	}
	return string(resp.Body)
}

func getRequest(t *testing.T, rawURL string, accept string) *Request {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("解析 URL 失败: %v", err)
	}
	header := http.Header{}
	if accept != "" {
		header.Set("Accept", accept)
	}
	return &Request{Method: http.MethodGet, URL: parsed, Header: header}
}

func TestNetworkFirstPrefersNetwork(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/players"
	env.seed(t, testDynamic, target, "stale")
	env.fetcher.set(target, 200, "fresh")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != "fresh" || result.Source != SourceNetwork || result.Strategy != strategy.NetworkFirst {
		t.Fatalf("应返回网络响应: %+v", result)
	}
	if got := env.cached(t, testDynamic, target); got != "fresh" {
		t.Fatalf("动态分区应更新为网络响应，实际 %q", got)
	}
}

func TestNetworkFirstOfflineFallsBackToDynamic(t *testing.T) {
	env := newTestEnv(t)
	target := "https://api.mcsrvstat.us/2/mcnepal.fun:25565"
	env.seed(t, testDynamic, target, `{"online":true}`)

	result, err := env.router.Serve(context.Background(), getRequest(t, target, "application/json"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != `{"online":true}` || result.Source != SourceCache {
		t.Fatalf("应返回缓存副本: %+v", result)
	}
}

func TestNetworkFirstNavigationServesOfflinePage(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/status.html"

	result, err := env.router.Serve(context.Background(), getRequest(t, target, "text/html,application/xhtml+xml"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if result.Source != SourceOffline || result.Response.Status != http.StatusServiceUnavailable {
		t.Fatalf("应返回内置离线页: %+v", result)
	}

	env.seed(t, testStatic, siteBase+"/offline.html", "<h1>offline</h1>")
	result, err = env.router.Serve(context.Background(), getRequest(t, target, "text/html"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != "<h1>offline</h1>" {
		t.Fatalf("应优先返回静态分区中的离线页: %q", result.Response.Body)
	}
}

func TestNetworkFirstPropagatesFailureWithoutFallback(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/missing"

	if _, err := env.router.Serve(context.Background(), getRequest(t, target, "application/json")); !errors.Is(err, errNetworkDown) {
		t.Fatalf("无兜底时应返回网络错误，实际 %v", err)
	}

	env.fetcher.set(target, 500, "boom")
	result, err := env.router.Serve(context.Background(), getRequest(t, target, "application/json"))
	if err != nil {
		t.Fatalf("上游非 2xx 应透传: %v", err)
	}
	if result.Response.Status != 500 {
		t.Fatalf("应返回上游 500: %+v", result)
	}
	if got := env.cached(t, testDynamic, target); got != "" {
		t.Fatalf("非 2xx 响应不应写入缓存")
	}
}

func TestNetworkFirstNonOKFallsBackToCache(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/players"
	env.seed(t, testDynamic, target, "cached")
	env.fetcher.set(target, 502, "bad gateway")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != "cached" {
		t.Fatalf("上游非 2xx 时应回退缓存: %q", result.Response.Body)
	}
}

func TestCacheFirstServesStaticWithoutWaiting(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/assets/css/style.css"
	env.seed(t, testStatic, target, "v1")
	env.fetcher.set(target, 200, "v2")
	env.fetcher.gate = make(chan struct{})

	done := make(chan *Result, 1)
	go func() {
		result, err := env.router.Serve(context.Background(), getRequest(t, target, "text/css"))
		if err != nil {
			t.Errorf("serve 失败: %v", err)
		}
		done <- result
	}()

	select {
	case result := <-done:
		if string(result.Response.Body) != "v1" || result.Source != SourceCache {
			t.Fatalf("应立即返回静态副本: %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cache-first 命中时不应等待网络")
	}

	close(env.fetcher.gate)
	env.router.Wait()
	if got := env.cached(t, testStatic, target); got != "v2" {
		t.Fatalf("后台刷新应写入静态分区，实际 %q", got)
	}
}

func TestCacheFirstMissFetchesAndStores(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/assets/css/style.css"
	env.fetcher.set(target, 200, "body{}")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if result.Source != SourceNetwork || string(result.Response.Body) != "body{}" {
		t.Fatalf("未命中时应返回网络响应: %+v", result)
	}
	if got := env.cached(t, testStatic, target); got != "body{}" {
		t.Fatalf("网络响应应写入静态分区，实际 %q", got)
	}

	env.fetcher.fail(target)
	result, err = env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil || string(result.Response.Body) != "body{}" {
		t.Fatalf("离线后应命中静态分区: %+v err=%v", result, err)
	}
	env.router.Wait()
	if got := env.cached(t, testStatic, target); got != "body{}" {
		t.Fatalf("后台刷新失败不应影响已有缓存，实际 %q", got)
	}
}

func TestCacheFirstMissPropagatesFailure(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.router.Serve(context.Background(), getRequest(t, siteBase+"/assets/js/main.js", "")); !errors.Is(err, errNetworkDown) {
		t.Fatalf("未命中且网络失败时应返回错误，实际 %v", err)
	}
}

func TestStaleWhileRevalidateReturnsCachedBytes(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/index.html"
	env.seed(t, testDynamic, target, "old page")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, "text/html"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != "old page" || result.Strategy != strategy.StaleWhileRevalidate {
		t.Fatalf("网络失败时仍应返回缓存: %+v", result)
	}
	env.router.Wait()

	env.fetcher.set(target, 200, "new page")
	result, err = env.router.Serve(context.Background(), getRequest(t, target, "text/html"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if string(result.Response.Body) != "old page" {
		t.Fatalf("命中时应返回旧副本而非网络结果: %q", result.Response.Body)
	}
	env.router.Wait()
	if got := env.cached(t, testDynamic, target); got != "new page" {
		t.Fatalf("后台应刷新动态分区，实际 %q", got)
	}
}

func TestStaleWhileRevalidateMissAwaitsNetwork(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/?ref=home"
	env.fetcher.set(target, 200, "home")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if result.Source != SourceNetwork || string(result.Response.Body) != "home" {
		t.Fatalf("未命中时应返回网络结果: %+v", result)
	}
	if got := env.cached(t, testDynamic, target); got != "home" {
		t.Fatalf("网络结果应写入动态分区")
	}
}

func TestNonGETIsNeverIntercepted(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/vote"
	env.fetcher.set(target, 200, "ok")
	req := getRequest(t, target, "")
	req.Method = http.MethodPost

	if _, err := env.router.Serve(context.Background(), req); !errors.Is(err, ErrNotIntercepted) {
		t.Fatalf("POST 不应被拦截，实际 %v", err)
	}
	result, err := env.router.Passthrough(context.Background(), req)
	if err != nil || result.Source != SourcePassthrough {
		t.Fatalf("透传失败: %+v err=%v", result, err)
	}
	for _, store := range []string{testStatic, testDynamic} {
		if got := env.cached(t, store, target); got != "" {
			t.Fatalf("非 GET 请求不应写入 %s", store)
		}
	}

	ftp := getRequest(t, "ftp://files.mcnepal.fun/pack.zip", "")
	if Intercepts(ftp) {
		t.Fatalf("非 http/https 请求不应被拦截")
	}
}

func TestBackgroundRefreshIsDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/assets/js/main.js"
	env.seed(t, testStatic, target, "v1")
	env.fetcher.set(target, 200, "v2")
	env.fetcher.gate = make(chan struct{})

	for i := 0; i < 5; i++ {
		if _, err := env.router.Serve(context.Background(), getRequest(t, target, "")); err != nil {
			t.Fatalf("serve 失败: %v", err)
		}
	}
	// 等待第一个刷新进入 Fetch 后再放行，其余调用会复用同一次回源。
	time.Sleep(50 * time.Millisecond)
	close(env.fetcher.gate)
	env.router.Wait()

	if calls := env.fetcher.count(target); calls < 1 || calls > 5 {
		t.Fatalf("后台刷新次数异常: %d", calls)
	}
	if got := env.cached(t, testStatic, target); got != "v2" {
		t.Fatalf("刷新结果应写入静态分区，实际 %q", got)
	}
}

// brokenStore 的读操作总是失败，用于验证存储不可用时的错误传播。
type brokenStore struct {
	cache.Store
	puts atomic.Int32
}

var errStoreDown = errors.New("store down")

func (s *brokenStore) Get(context.Context, string, string) (*cache.Response, error) {
	return nil, errStoreDown
}

func (s *brokenStore) Put(context.Context, string, string, *cache.Response) error {
	s.puts.Add(1)
	return errStoreDown
}

func TestStoreLookupFailurePropagates(t *testing.T) {
	env := newTestEnvWithStore(t, &brokenStore{})
	for _, target := range []string{siteBase + "/assets/css/style.css", siteBase + "/about"} {
		if _, err := env.router.Serve(context.Background(), getRequest(t, target, "")); !errors.Is(err, errStoreDown) {
			t.Fatalf("%s: 存储读失败应向上传递，实际 %v", target, err)
		}
	}
}

func TestStoreWriteFailureKeepsNetworkResponse(t *testing.T) {
	store := &brokenStore{}
	env := newTestEnvWithStore(t, store)
	target := siteBase + "/api/players"
	env.fetcher.set(target, 200, "fresh")

	result, err := env.router.Serve(context.Background(), getRequest(t, target, ""))
	if err != nil {
		t.Fatalf("写缓存失败不应影响响应: %v", err)
	}
	if string(result.Response.Body) != "fresh" || store.puts.Load() != 1 {
		t.Fatalf("应尝试写入并返回网络响应: %+v puts=%d", result, store.puts.Load())
	}
}

func TestSetCookieResponseIsNotShared(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/index.html"
	env.fetcher.set(target, 200, "welcome alice")
	env.fetcher.setHeader(target, "Set-Cookie", "session=alice-secret; Path=/")

	alice := getRequest(t, target, "text/html")
	alice.Header.Set("Cookie", "session=alice-secret")
	result, err := env.router.Serve(context.Background(), alice)
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if result.Response.Header.Get("Set-Cookie") == "" {
		t.Fatalf("发起请求的客户端应收到自己的 Set-Cookie")
	}
	if got := env.cached(t, testDynamic, target); got != "" {
		t.Fatalf("带 Set-Cookie 的响应不应写入共享分区，实际 %q", got)
	}

	result, err = env.router.Serve(context.Background(), getRequest(t, target, "text/html"))
	if err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if result.Source != SourceNetwork || env.fetcher.count(target) != 2 {
		t.Fatalf("匿名客户端应回源而不是命中他人的副本: %+v calls=%d", result, env.fetcher.count(target))
	}
}

func TestPrivateResponsesAreNotShared(t *testing.T) {
	for i, directive := range []string{"private", "no-store", "private, max-age=60", `no-cache, NO-STORE`} {
		env := newTestEnv(t)
		target := siteBase + "/assets/css/theme.css"
		env.fetcher.set(target, 200, "body{}")
		env.fetcher.setHeader(target, "Cache-Control", directive)

		if _, err := env.router.Serve(context.Background(), getRequest(t, target, "")); err != nil {
			t.Fatalf("case %d: serve 失败: %v", i, err)
		}
		if got := env.cached(t, testStatic, target); got != "" {
			t.Fatalf("case %d: Cache-Control %q 的响应不应写入共享分区", i, directive)
		}
	}
}

func TestCredentialedRequestStoresOnlyPublicResponses(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/api/profile"
	env.fetcher.set(target, 200, "alice profile")

	req := getRequest(t, target, "application/json")
	req.Header.Set("Authorization", "Bearer alice")
	if _, err := env.router.Serve(context.Background(), req); err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if got := env.cached(t, testDynamic, target); got != "" {
		t.Fatalf("带凭据请求的非 public 响应不应写入共享分区，实际 %q", got)
	}

	env.fetcher.setHeader(target, "Cache-Control", "public, max-age=60")
	if _, err := env.router.Serve(context.Background(), req); err != nil {
		t.Fatalf("serve 失败: %v", err)
	}
	if got := env.cached(t, testDynamic, target); got != "alice profile" {
		t.Fatalf("显式 public 的响应应写入共享分区，实际 %q", got)
	}
}

func TestBackgroundRefreshDropsCredentials(t *testing.T) {
	env := newTestEnv(t)
	target := siteBase + "/assets/js/store.js"
	env.seed(t, testStatic, target, "v1")
	env.fetcher.set(target, 200, "v2")

	req := getRequest(t, target, "")
	req.Header.Set("Cookie", "session=alice-secret")
	req.Header.Set("Authorization", "Bearer alice")
	result, err := env.router.Serve(context.Background(), req)
	if err != nil || result.Source != SourceCache {
		t.Fatalf("应命中静态分区: %+v err=%v", result, err)
	}
	env.router.Wait()

	sent := env.fetcher.lastSent(target)
	if sent.Get("Cookie") != "" || sent.Get("Authorization") != "" {
		t.Fatalf("后台刷新不应携带客户端凭据: %v", sent)
	}
	if got := env.cached(t, testStatic, target); got != "v2" {
		t.Fatalf("匿名刷新结果应写入静态分区，实际 %q", got)
	}
}

func TestPartitionFollowsRegisteredStoreRole(t *testing.T) {
	env := newTestEnv(t)
	for _, kind := range strategy.Keys() {
		meta, _ := strategy.Resolve(kind)
		want := testDynamic
		if meta.Store == strategy.StoreStatic {
			want = testStatic
		}
		if got := env.router.partitionFor(kind).Name(); got != want {
			t.Fatalf("%s 应读写 %s 分区，实际 %s", kind, want, got)
		}
	}
	if got := env.router.partitionFor("unregistered").Name(); got != testDynamic {
		t.Fatalf("未注册策略应落在动态分区，实际 %s", got)
	}
}
