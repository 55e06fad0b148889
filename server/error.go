package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Message string `json:"message"`
}

var ErrorHandler = func(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	} else {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	c.Set(fiber.HeaderContentType, "application/json")

	return c.Status(code).JSON(ErrorResponse{Error: Error{Message: err.Error()}})
}
