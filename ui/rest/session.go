package rest

import (
	"encoding/base64"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/apperror"
	"github.com/calmecac/wabridge/pkg/utils"
	"github.com/calmecac/wabridge/ui/rest/middleware"
)

type Session struct {
	Supervisor session.ISupervisor
}

func InitRestSession(group fiber.Router, supervisor session.ISupervisor) Session {
	handler := Session{Supervisor: supervisor}

	group.Get("/sessions", handler.List)
	group.Get("/sessions/:label/qr", handler.QR)
	group.Post("/sessions/:label/messages/text", handler.SendText)
	group.Post("/sessions/:label/messages/media", handler.SendMedia)
	group.Get("/sessions/:label/messages/:messageId/media", handler.DownloadMedia)

	admin := group.Group("", middleware.RequireAdmin())
	admin.Post("/sessions/:label", handler.Init)
	admin.Delete("/sessions/:label", handler.Stop)
	admin.Delete("/sessions/:label/credentials", handler.Destroy)

	return handler
}

// requireLabel valida que la vista de acceso cubra la sesión de la ruta.
func requireLabel(c *fiber.Ctx) (accountID, label string) {
	accountID = c.Params("accountId")
	label = c.Params("label")
	if !middleware.AccessView(c).AllowsLabel(label) {
		panic(apperror.ForbiddenError(fmt.Sprintf("no access to session %s", label)))
	}
	return accountID, label
}

func (h *Session) Init(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	status, err := h.Supervisor.Init(c.UserContext(), accountID, label)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session starting",
		Results: fiber.Map{"accountId": accountID, "label": label, "status": status},
	})
}

func (h *Session) Stop(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	utils.PanicIfNeeded(h.Supervisor.Stop(c.UserContext(), accountID, label))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session stopped",
	})
}

func (h *Session) Destroy(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	utils.PanicIfNeeded(h.Supervisor.Destroy(c.UserContext(), accountID, label))

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session destroyed and credentials removed",
	})
}

// List enumera las sesiones vivas de la cuenta; un operador solo ve las de
// su ACL.
func (h *Session) List(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	view := middleware.AccessView(c)

	running := h.Supervisor.ListRunning(accountID)
	visible := make([]session.RunningSession, 0, len(running))
	for _, rs := range running {
		if view.AllowsLabel(rs.Label) {
			visible = append(visible, rs)
		}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Running sessions",
		Results: visible,
	})
}

func (h *Session) QR(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	qr := h.Supervisor.QR(accountID, label)
	if qr == "" {
		panic(apperror.NotFoundError(fmt.Sprintf("session %s has no pending QR", label)))
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Scan to link the session",
		Results: fiber.Map{"qr": qr, "status": h.Supervisor.Status(accountID, label)},
	})
}

func (h *Session) SendText(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	var req SendTextRequest
	utils.PanicIfNeeded(c.BodyParser(&req))
	if err := req.Validate(); err != nil {
		panic(apperror.ValidationError(err.Error()))
	}

	messageID, err := h.Supervisor.SendText(c.UserContext(), accountID, label, req.To, req.Text)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message sent",
		Results: fiber.Map{"messageId": messageID},
	})
}

func (h *Session) SendMedia(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)

	var req SendMediaRequest
	utils.PanicIfNeeded(c.BodyParser(&req))
	if err := req.Validate(); err != nil {
		panic(apperror.ValidationError(err.Error()))
	}

	media := session.Media{
		URL:       req.URL,
		Mimetype:  req.Mimetype,
		Filename:  req.Filename,
		VoiceNote: req.VoiceNote,
	}
	if req.DataB64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.DataB64)
		if err != nil {
			panic(apperror.ValidationError("dataB64: invalid base64."))
		}
		media.Data = data
	}

	messageID, err := h.Supervisor.SendMedia(c.UserContext(), accountID, label, req.To, media, req.Caption)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Media sent",
		Results: fiber.Map{"messageId": messageID},
	})
}

// DownloadMedia sirve media entrante reciente desde la cache del
// supervisor.
func (h *Session) DownloadMedia(c *fiber.Ctx) error {
	accountID, label := requireLabel(c)
	messageID := c.Params("messageId")

	media, err := h.Supervisor.DownloadMessageMedia(c.UserContext(), accountID, label, messageID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Media ready",
		Results: media,
	})
}
