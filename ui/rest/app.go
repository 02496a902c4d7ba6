package rest

import (
	"github.com/gofiber/fiber/v2"

	"github.com/calmecac/wabridge/domains/access"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/infrastructure/identity"
	"github.com/calmecac/wabridge/pkg/utils"
	"github.com/calmecac/wabridge/ui/rest/middleware"
)

// Deps junta lo que la capa REST necesita del resto del proceso.
type Deps struct {
	Supervisor  session.ISupervisor
	Verifier    identity.Verifier
	Resolver    access.Resolver
	AccessAdmin IAccessAdmin
}

// InitRest monta todas las rutas: health abierto, y el resto bajo
// /api/accounts/:accountId con bearer auth.
func InitRest(app fiber.Router, deps Deps) {
	InitRestHealth(app, deps.Supervisor)

	account := app.Group("/api/accounts/:accountId", middleware.Auth(deps.Verifier, deps.Resolver))
	InitRestSession(account, deps.Supervisor)
	InitRestAcl(account, deps.AccessAdmin)
}

// NotFoundFallback responde JSON uniforme para rutas desconocidas. Debe
// registrarse al final.
func NotFoundFallback(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(utils.ResponseData{
		Status:  404,
		Code:    "NOT_FOUND",
		Message: "Route not found",
	})
}
