package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/scheduler"
)

// SchedulerRunner is the part of the scheduler the trigger endpoint needs.
type SchedulerRunner interface {
	Run(ctx context.Context) (*scheduler.Summary, error)
}

type SchedulerHandler struct {
	sched SchedulerRunner
	cfg   config.Config
}

func NewSchedulerHandler(sched SchedulerRunner, cfg config.Config) *SchedulerHandler {
	return &SchedulerHandler{sched: sched, cfg: cfg}
}

// RunScheduler is the external trigger entry point. It requires the shared
// scheduler bearer token; the trigger's own cadence or overlap behavior is
// not trusted, the scheduler defends itself.
func (h *SchedulerHandler) RunScheduler(c *fiber.Ctx) error {
	if !h.authorized(c.Get("Authorization")) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "unauthorized",
		})
	}

	summary, err := h.sched.Run(c.Context())
	if err != nil {
		log.Printf("scheduler run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"summary": summary,
	})
}

func (h *SchedulerHandler) authorized(header string) bool {
	if h.cfg.SchedulerToken == "" {
		return false
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.SchedulerToken)) == 1
}
