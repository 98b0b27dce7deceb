package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/sw"
)

type syncRequest struct {
	Tag string `json:"tag"`
}

// RegisterWorkerRoutes 暴露 worker 控制接口：
//
//	POST /-/sw/message  {"type":"SKIP_WAITING"|"GET_VERSION"|"CLEAR_CACHE"}
//	POST /-/sw/sync     {"tag":"background-sync"}
func RegisterWorkerRoutes(app *fiber.App, worker *sw.Worker, logger *logrus.Logger) {
	if app == nil || worker == nil {
		return
	}

	app.Post("/-/sw/message", func(c fiber.Ctx) error {
		var msg sw.Message
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &msg); err != nil {
				return c.SendStatus(fiber.StatusNoContent)
			}
		}
		reply, err := worker.HandleMessage(c.Context(), msg)
		if err != nil {
			if errors.Is(err, sw.ErrNotInstalled) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "worker_not_installed"})
			}
			if logger != nil {
				logger.WithError(err).WithField("type", msg.Type).Error("worker_message_failed")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}
		if reply == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(reply)
	})

	app.Post("/-/sw/sync", func(c fiber.Ctx) error {
		var req syncRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_sync_request"})
		}
		refreshed, err := worker.Sync(c.Context(), req.Tag)
		if err != nil {
			if logger != nil {
				logger.WithError(err).WithField("tag", req.Tag).Error("background_sync_failed")
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "sync_failed"})
		}
		return c.JSON(fiber.Map{"tag": req.Tag, "refreshed": refreshed})
	})
}
