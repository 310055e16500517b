package middleware

import (
	"errors"
	"strings"

	"resqtail/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SessionCookie is the cookie carrying the opaque session token.
const SessionCookie = "resqtail_session"

const identityKey = "identity"

// LoginPath is where anonymous browsers are sent.
const LoginPath = "/login"

// SessionToken extracts the token from an "Authorization: Bearer <token>"
// header or, failing that, from the session cookie.
func SessionToken(c *fiber.Ctx) string {
	if token := BearerToken(c); token != "" {
		return token
	}
	return c.Cookies(SessionCookie)
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// BearerOnly guards state-changing GET routes. Browsers send cookies on
// cross-site links, so those routes only accept an explicit Bearer token.
func BearerOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if BearerToken(c) == "" {
			return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
				"message":  "Use the buttons on the dashboard for this action.",
				"redirect": "/dashboard",
			})
		}
		return c.Next()
	}
}

// AuthRequired refuses anonymous callers. Browsers are redirected to the
// login page, API clients get 401 with the redirect target.
func AuthRequired(authService *services.AuthService, log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := SessionToken(c)
		if token == "" {
			return refuse(c, "Please log in to continue.")
		}

		identity, err := authService.Resolve(c.UserContext(), token)
		if err != nil {
			if !errors.Is(err, services.ErrUnauthenticated) {
				log.WithError(err).Error("session lookup failed")
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"message": "Something went wrong, please try again.",
				})
			}
			return refuse(c, "Your session has expired, please log in again.")
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// CurrentIdentity returns the identity stored by AuthRequired, or nil.
func CurrentIdentity(c *fiber.Ctx) *services.Identity {
	identity, _ := c.Locals(identityKey).(*services.Identity)
	return identity
}

// WantsHTML reports whether the caller is a browser navigating pages.
func WantsHTML(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMETextHTML)
}

func refuse(c *fiber.Ctx, message string) error {
	if WantsHTML(c) {
		return c.Redirect(LoginPath, fiber.StatusSeeOther)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"message":  message,
		"redirect": LoginPath,
	})
}
