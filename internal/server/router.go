package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ControlPrefix 是控制与诊断接口的公共前缀，这些路径不做 Host 映射。
const ControlPrefix = "/-/"

// ProxyHandler answers a request for a mapped host, from the edge cache or
// the upstream.
type ProxyHandler interface {
	Handle(fiber.Ctx, *HostRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *HostRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *HostRoute) error {
	return f(c, route)
}

// AppOptions 描述边缘节点 Fiber 应用的依赖。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *HostRegistry
	Proxy      ProxyHandler
	ListenPort int
	// BodyLimit 限制透传请求体大小，<=0 时使用 Fiber 默认值。
	BodyLimit int
}

const (
	contextKeyRoute     = "_edgecache_route"
	contextKeyRequestID = "_edgecache_request_id"

	headerRequestID = "X-Request-ID"
	headerEdgeHost  = "X-Edge-Host"
)

// NewApp 构建 Fiber 应用：recover → 请求 ID 与 Host 映射 → 控制接口或代理处理。
// 控制接口需在返回后由调用方注册，代理路由对 /-/ 前缀调用 c.Next() 让出。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("host registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	cfg := fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if IsControlPath(c.Path()) {
			return c.Next()
		}
		route, ok := RouteFromContext(c)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 分配请求 ID 并按 Host 头解析 HostRoute。
// 客户端带来合法 UUID 形式的 X-Request-ID 时沿用，便于与上游日志串联。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := incomingRequestID(c)
		c.Locals(contextKeyRequestID, reqID)
		c.Set(headerRequestID, reqID)

		if IsControlPath(c.Path()) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(hostHeader(c))
		route, ok := opts.Registry.Lookup(rawHost)
		if !ok {
			return renderHostUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
		}

		c.Locals(contextKeyRoute, route)
		c.Set(headerEdgeHost, route.Config.Name)
		return c.Next()
	}
}

func incomingRequestID(c fiber.Ctx) string {
	if raw := strings.TrimSpace(c.Get(headerRequestID)); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			return parsed.String()
		}
	}
	return uuid.NewString()
}

func renderHostUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("host_unmapped")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "host_unmapped",
		"host":  host,
	})
}

// jsonErrorHandler 把未处理的 error 统一渲染为 {"error": "..."}；非 fiber.Error 记为 500 并写日志。
func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": strings.ToLower(strings.ReplaceAll(fe.Message, " ", "_"))})
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "handle_request",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error("unhandled_error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// RouteFromContext 返回中间件解析出的 HostRoute；控制接口与未映射请求返回 false。
func RouteFromContext(c fiber.Ctx) (*HostRoute, bool) {
	route, ok := c.Locals(contextKeyRoute).(*HostRoute)
	return route, ok && route != nil
}

// RequestID returns the request identifier assigned by the middleware.
func RequestID(c fiber.Ctx) string {
	reqID, _ := c.Locals(contextKeyRequestID).(string)
	return reqID
}

// IsControlPath 判断路径是否属于 /-/ 控制接口。
func IsControlPath(path string) bool {
	return strings.HasPrefix(path, ControlPrefix)
}
