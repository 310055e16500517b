package handlers

import (
	"errors"

	"resqtail/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// respondError maps workflow errors to a status and a message a person can
// read. Unexpected errors are logged and answered generically.
func respondError(c *fiber.Ctx, log *logrus.Entry, err error, action string) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Please check the highlighted fields.",
			"errors":  validationErr.Fields,
		})
	case errors.Is(err, services.ErrDuplicateEmail):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "That email address is already registered. Please use a different one or log in.",
		})
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Invalid credentials. Try again.",
		})
	case errors.Is(err, services.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message":  "Please log in to continue.",
			"redirect": "/login",
		})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You're not authorized to " + action + ".",
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Report not found.",
		})
	case errors.Is(err, services.ErrUpstream):
		log.WithError(err).Warn("upstream failure during " + action)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"message": "Image upload failed, please try again.",
		})
	default:
		log.WithError(err).Error("failed to " + action)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "An error occurred while trying to " + action + ".",
		})
	}
}
