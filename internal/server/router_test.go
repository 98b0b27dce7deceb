package server

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/mcnepal/edgecache/internal/logging"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://www.mcnepal.fun/assets/css/style.css", nil)
	req.Host = "www.mcnepal.fun"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("期望 204，实际 %d (body=%s)", resp.StatusCode, string(body))
	}
	if app.storage.routeName != "site" {
		t.Fatalf("应命中 site，实际 %s", app.storage.routeName)
	}
	if got := resp.Header.Get("X-Edge-Host"); got != "site" {
		t.Fatalf("X-Edge-Host 应为 site，实际 %q", got)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("应设置 X-Request-ID")
	}
}

func TestRouterKeepsValidIncomingRequestID(t *testing.T) {
	app := newTestApp(t, 5000)
	const incoming = "0f8fad5b-d9cb-469f-a165-70867728950e"

	req := httptest.NewRequest("GET", "http://www.mcnepal.fun/", nil)
	req.Host = "www.mcnepal.fun"
	req.Header.Set("X-Request-ID", incoming)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != incoming {
		t.Fatalf("合法的请求 ID 应沿用，实际 %q", got)
	}

	req = httptest.NewRequest("GET", "http://www.mcnepal.fun/", nil)
	req.Host = "www.mcnepal.fun"
	req.Header.Set("X-Request-ID", "not-a-uuid")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "not-a-uuid" || got == "" {
		t.Fatalf("非法请求 ID 应被替换，实际 %q", got)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("期望 404，实际 %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("应返回 host_unmapped，实际 %s", string(body))
	}
	if app.storage.routeName != "" {
		t.Fatalf("未映射的 Host 不应进入代理")
	}
}

func TestRouterControlPathBypassesHostLookup(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://unknown.local/-/ping", nil)
	req.Host = "unknown.local"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("控制接口应跳过 Host 校验，实际 %d", resp.StatusCode)
	}
	if app.storage.routeName != "" {
		t.Fatalf("控制接口不应进入代理")
	}
}

func TestRouterRendersErrorsAsJSON(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/boom", func(c fiber.Ctx) error {
		return errors.New("disk full")
	})
	app.Get("/-/teapot", func(c fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "Short And Stout")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://edge/-/boom", nil))
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusInternalServerError || !bytes.Contains(body, []byte(`"internal_error"`)) {
		t.Fatalf("普通错误应渲染为 500 internal_error，实际 %d %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "http://edge/-/teapot", nil))
	if err != nil {
		t.Fatalf("app.Test 失败: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusTeapot || !bytes.Contains(body, []byte(`"short_and_stout"`)) {
		t.Fatalf("fiber.Error 应保留状态码，实际 %d %s", resp.StatusCode, body)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	registry, _ := NewHostRegistry(testConfig())
	if _, err := NewApp(AppOptions{Registry: registry, Proxy: &proxyRecorder{}, ListenPort: 5000}); err == nil {
		t.Fatalf("缺少 logger 应报错")
	}
	if _, err := NewApp(AppOptions{Logger: logging.Discard(), Registry: registry, Proxy: &proxyRecorder{}}); err == nil {
		t.Fatalf("缺少端口应报错")
	}
	if _, err := NewApp(AppOptions{Logger: logging.Discard(), Proxy: &proxyRecorder{}, ListenPort: 5000}); err == nil {
		t.Fatalf("缺少 HostRegistry 应报错")
	}
}

func TestIsControlPath(t *testing.T) {
	if !IsControlPath("/-/status") {
		t.Fatalf("/-/status 应视为控制接口")
	}
	if IsControlPath("/assets/-/x.css") {
		t.Fatalf("只有前缀匹配才算控制接口")
	}
}

type testApp struct {
	*fiber.App
	storage *proxyRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	registry, err := NewHostRegistry(testConfig())
	if err != nil {
		t.Fatalf("创建 HostRegistry 失败: %v", err)
	}

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logging.Discard(),
		Registry:   registry,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("创建应用失败: %v", err)
	}

	return &testApp{App: app, storage: recorder}
}

type proxyRecorder struct {
	lastRoute *HostRoute
	routeName string
}

func (p *proxyRecorder) Handle(c fiber.Ctx, route *HostRoute) error {
	p.lastRoute = route
	p.routeName = route.Config.Name
	return c.SendStatus(fiber.StatusNoContent)
}
