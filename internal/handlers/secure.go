package handlers

import (
	"github.com/gofiber/fiber/v2"

	"esachat/internal/middleware"
)

// SecurePing confirms the bearer token is accepted
// GET /api/secure/ping
func SecurePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true, "sub": middleware.UserID(c)})
}

// WhoAmI returns a minimal view of the caller's identity
// GET /api/secure/whoami
func WhoAmI(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sub":                middleware.UserID(c),
		"preferred_username": middleware.Username(c),
		"realm_roles":        rolesOrEmpty(middleware.UserRoles(c)),
	})
}

// AdminOnly is reachable with the admin realm role only
// GET /api/admin/only
func AdminOnly(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ok":    true,
		"sub":   middleware.UserID(c),
		"roles": fiber.Map{"roles": rolesOrEmpty(middleware.UserRoles(c))},
	})
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
