package rest

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/calmecac/wabridge/domains/access"
	"github.com/calmecac/wabridge/pkg/apperror"
	"github.com/calmecac/wabridge/pkg/utils"
	"github.com/calmecac/wabridge/ui/rest/middleware"
)

// IAccessAdmin es la cara de administración del store de permisos.
type IAccessAdmin interface {
	GrantLabel(ctx context.Context, accountID, uid, label string) error
	RevokeLabel(ctx context.Context, accountID, uid, label string) error
	ListUsers(ctx context.Context, accountID string) (map[string]access.View, error)
}

type Acl struct {
	Store IAccessAdmin
}

// Todo el manejo de ACL es de administradores.
func InitRestAcl(group fiber.Router, store IAccessAdmin) Acl {
	handler := Acl{Store: store}

	admin := group.Group("/users", middleware.RequireAdmin())
	admin.Get("/", handler.List)
	admin.Post("/:uid/acl", handler.Grant)
	admin.Delete("/:uid/acl/:label", handler.Revoke)

	return handler
}

func (h *Acl) List(c *fiber.Ctx) error {
	users, err := h.Store.ListUsers(c.UserContext(), c.Params("accountId"))
	utils.PanicIfNeeded(err)

	type userEntry struct {
		UID    string   `json:"uid"`
		Role   string   `json:"role"`
		Labels []string `json:"labels,omitempty"`
	}
	results := make([]userEntry, 0, len(users))
	for uid, view := range users {
		results = append(results, userEntry{UID: uid, Role: string(view.Role), Labels: view.Labels})
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Account users",
		Results: results,
	})
}

func (h *Acl) Grant(c *fiber.Ctx) error {
	var req GrantAclRequest
	utils.PanicIfNeeded(c.BodyParser(&req))
	if err := req.Validate(); err != nil {
		panic(apperror.ValidationError(err.Error()))
	}

	err := h.Store.GrantLabel(c.UserContext(), c.Params("accountId"), c.Params("uid"), req.Label)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session access granted",
	})
}

func (h *Acl) Revoke(c *fiber.Ctx) error {
	err := h.Store.RevokeLabel(c.UserContext(), c.Params("accountId"), c.Params("uid"), c.Params("label"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session access revoked",
	})
}
