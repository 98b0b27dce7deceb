package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/server"
	"github.com/mcnepal/edgecache/internal/strategy"
	"github.com/mcnepal/edgecache/internal/sw"
)

type hostPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Primary  bool   `json:"primary"`
	Port     int    `json:"port"`
}

type statusPayload struct {
	Version     string        `json:"version"`
	State       sw.State      `json:"state"`
	Controlling bool          `json:"controlling"`
	Static      string        `json:"static_store"`
	Dynamic     string        `json:"dynamic_store"`
	Stores      []string      `json:"stores"`
	Hosts       []hostPayload `json:"hosts"`
}

// RegisterStatusRoutes 暴露 /-/status，输出 worker 状态、现存分区与 Host 映射。
func RegisterStatusRoutes(app *fiber.App, registry *server.HostRegistry, worker *sw.Worker, store cache.Store) {
	if app == nil || registry == nil || worker == nil || store == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		stores, err := store.Stores(c.Context())
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "store_unavailable"})
		}
		names := worker.Names()
		return c.JSON(statusPayload{
			Version:     worker.Version(),
			State:       worker.State(),
			Controlling: worker.Controlling(),
			Static:      names.Static(),
			Dynamic:     names.Dynamic(),
			Stores:      stores,
			Hosts:       encodeHosts(registry.List()),
		})
	})
}

// RegisterStrategyRoutes 暴露 /-/strategies，列出已注册策略与生效中的规则表。
func RegisterStrategyRoutes(app *fiber.App, rules strategy.Rules) {
	if app == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": strategy.List(),
			"rules":      rules,
			"default":    strategy.DefaultKind(),
		})
	})
}

func encodeHosts(routes []server.HostRoute) []hostPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]hostPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, hostPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.UpstreamURL.String(),
			Primary:  route.Primary,
			Port:     route.ListenPort,
		})
	}
	return result
}
