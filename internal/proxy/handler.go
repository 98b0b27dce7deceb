package proxy

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/router"
	"github.com/mcnepal/edgecache/internal/server"
)

// Controller 报告 worker 是否已接管请求，未接管时所有请求直接透传。
type Controller interface {
	Controlling() bool
}

// Handler 把 Fiber 请求转换为 router.Request，按 worker 状态选择缓存分发或透传，
// 并将结果连同 X-Edge-* 诊断头写回客户端。
type Handler struct {
	router     *router.Router
	controller Controller
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler around the shared router and worker.
func NewHandler(rt *router.Router, controller Controller, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		router:     rt,
		controller: controller,
		logger:     logger,
	}
}

// Handle 执行一次代理请求，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.HostRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := buildRequest(c, route)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		result *router.Result
		err    error
	)
	if h.controller != nil && h.controller.Controlling() && router.Intercepts(req) {
		result, err = h.router.Serve(ctx, req)
	} else {
		result, err = h.router.Passthrough(ctx, req)
	}
	if err != nil {
		h.logResult(route, req, requestID, nil, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	h.writeResult(c, route, req, result)
	h.logResult(route, req, requestID, result, started, nil)
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, route *server.HostRoute, req *router.Request, result *router.Result) {
	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	if result.Source == router.SourceCache || result.Source == router.SourceOffline {
		// 分区内容由所有客户端共享，回放时不下发任何会话。
		c.Response().Header.Del(fiber.HeaderSetCookie)
	}
	if result.Strategy != "" {
		c.Set("X-Edge-Strategy", string(result.Strategy))
	}
	c.Set("X-Edge-Source", string(result.Source))
	c.Set("X-Edge-Upstream", route.UpstreamURL.String())
	c.Status(resp.Status)

	if req.Method == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.HostRoute,
	req *router.Request,
	requestID string,
	result *router.Result,
	started time.Time,
	err error,
) {
	strategyKey := ""
	source := ""
	status := 0
	if result != nil {
		strategyKey = string(result.Strategy)
		source = string(result.Source)
		status = result.Response.Status
	}
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		strategyKey,
		source,
		source == string(router.SourceCache),
	)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.Key()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		level := logrus.ErrorLevel
		if errors.Is(err, context.Canceled) {
			level = logrus.WarnLevel
		}
		h.logger.WithFields(fields).Log(level, "proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildRequest 将 Fiber 请求映射为上游完整 URL，并补充 X-Forwarded-* 头。
func buildRequest(c fiber.Ctx, route *server.HostRoute) *router.Request {
	uri := c.Request().URI()
	target := route.Resolve(normalizeRequestPath(string(uri.Path())), string(uri.QueryString()))

	header := fiberHeadersAsHTTP(c)
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	header.Set("X-Forwarded-Port", routePort(route))

	return &router.Request{
		Method: c.Method(),
		URL:    target,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
	}
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	if clean != "/" && raw[len(raw)-1] == '/' {
		clean += "/"
	}
	return clean
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.HostRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}
