package handler

import (
	"github.com/gofiber/fiber/v2"
)

type GetHealthResponse struct {
	IsServerRunning bool `json:"isServerRunning"`
	IsReplicating   bool `json:"isReplicating"`
}

func GetHealth(provider Provider) func(c *fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		return ctx.JSON(GetHealthResponse{
			IsServerRunning: true,
			IsReplicating:   provider.IsReplicating(),
		})
	}
}
