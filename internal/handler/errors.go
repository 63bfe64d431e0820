package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
)

// writeError maps a service/apperr error to the wire error contract:
// {request_id, error}, with status 400 for parameter problems, 404 for a
// missing pool, and 500 for everything else (including "no voucher
// available", which the spec treats as a 500 rather than a 4xx).
func writeError(c *fiber.Ctx, requestID string, err error) error {
	if br, ok := apperr.AsBadRequest(err); ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"request_id": nullable(requestID), "error": br.Msg})
	}
	if errors.Is(err, apperr.ErrNoPool) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"request_id": nullable(requestID), "error": "Voucher pool does not exist."})
	}
	if errors.Is(err, apperr.ErrAuditMismatch) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"request_id": nullable(requestID), "error": "This request has already been performed with different parameters."})
	}
	if errors.Is(err, apperr.ErrNoVoucher) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"request_id": nullable(requestID), "error": "No voucher available."})
	}

	log.Error().Err(err).Str("request_id", requestID).Msg("unhandled pool operation error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"request_id": nullable(requestID), "error": "Internal server error."})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
