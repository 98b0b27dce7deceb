package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mcnepal/edgecache/internal/notify"
)

// RegisterNotificationRoutes 暴露推送入口、通知列表与点击动作。
func RegisterNotificationRoutes(app *fiber.App, svc *notify.Service) {
	if app == nil || svc == nil {
		return
	}

	app.Post("/-/push", func(c fiber.Ctx) error {
		n, ok := svc.Push(c.Body())
		if !ok {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Status(fiber.StatusCreated).JSON(n)
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"notifications": svc.Feed().List()})
	})

	app.Get("/-/notifications/click", func(c fiber.Ctx) error {
		target, open := svc.Click(c.Query("action"))
		if !open {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Redirect().Status(fiber.StatusFound).To(target)
	})
}
