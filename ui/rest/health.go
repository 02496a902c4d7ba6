package rest

import (
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/calmecac/wabridge/config"
	"github.com/calmecac/wabridge/domains/session"
	"github.com/calmecac/wabridge/pkg/utils"
)

type Health struct {
	Supervisor session.ISupervisor
	startedAt  time.Time
}

func InitRestHealth(app fiber.Router, supervisor session.ISupervisor) Health {
	handler := Health{Supervisor: supervisor, startedAt: time.Now()}
	app.Get("/api/health", handler.GetStatus)
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	running := h.Supervisor.ListRunning("")
	byStatus := make(map[session.Status]int)
	for _, rs := range running {
		byStatus[rs.Status]++
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service healthy",
		Results: fiber.Map{
			"version":          config.AppVersion,
			"uptime":           humanize.Time(h.startedAt),
			"memoryAlloc":      humanize.Bytes(mem.Alloc),
			"goroutines":       runtime.NumGoroutine(),
			"sessions":         len(running),
			"sessionsByStatus": byStatus,
		},
	})
}
