package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is satisfied by *pgxpool.Pool; the pool backing every named
// voucher pool's tables is the one dependency this process has.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers GET /health, independent of any particular named
// pool: it reports whether the shared database connection this process
// needs for every pool operation is reachable.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a HealthHandler backed by the shared pgx pool.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Check pings the database. 200 {"status": "healthy"} when reachable;
// 503 {"status": "unhealthy", "dependency": "postgres", "error": "..."}
// naming the failed dependency otherwise, so an operator watching this
// endpoint doesn't have to cross-reference logs to know what's down.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.db.Ping(c.Context()); err != nil {
		log.Error().Err(err).Str("dependency", "postgres").Msg("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":     "unhealthy",
			"dependency": "postgres",
			"error":      err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}
