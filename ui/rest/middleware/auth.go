package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/calmecac/wabridge/domains/access"
	"github.com/calmecac/wabridge/infrastructure/identity"
	"github.com/calmecac/wabridge/pkg/utils"
)

const (
	LocalUID        = "uid"
	LocalAccessView = "accessView"
)

func deny(ctx *fiber.Ctx, status int, code, message string) error {
	return ctx.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// Auth valida el bearer token y resuelve los permisos del usuario sobre la
// cuenta de la ruta. Deja uid y la vista de acceso en locals.
func Auth(verifier identity.Verifier, resolver access.Resolver) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		header := ctx.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return deny(ctx, fiber.StatusUnauthorized, "UNAUTHORIZED", "Bearer token is required")
		}

		uid, err := verifier.Verify(ctx.UserContext(), token)
		if err != nil {
			return deny(ctx, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		}

		accountID := ctx.Params("accountId")
		if accountID == "" {
			return deny(ctx, fiber.StatusBadRequest, "VALIDATION_ERROR", "accountId: cannot be blank.")
		}

		view, err := resolver.Resolve(ctx.UserContext(), accountID, uid)
		if err != nil {
			return deny(ctx, fiber.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Access lookup failed")
		}
		if view.Empty() {
			return deny(ctx, fiber.StatusForbidden, "FORBIDDEN", "No access to this account")
		}

		ctx.Locals(LocalUID, uid)
		ctx.Locals(LocalAccessView, view)
		return ctx.Next()
	}
}

// RequireAdmin corta a los operadores; va después de Auth.
func RequireAdmin() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		view, ok := ctx.Locals(LocalAccessView).(access.View)
		if !ok || view.Role != access.RoleAdministrator {
			return deny(ctx, fiber.StatusForbidden, "FORBIDDEN", "Administrator role is required")
		}
		return ctx.Next()
	}
}

// AccessView recupera la vista que dejó Auth.
func AccessView(ctx *fiber.Ctx) access.View {
	if view, ok := ctx.Locals(LocalAccessView).(access.View); ok {
		return view
	}
	return access.View{}
}
