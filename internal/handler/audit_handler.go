package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
)

// AuditServiceInterface is the subset of PoolService the audit handler needs.
type AuditServiceInterface interface {
	AuditQuery(ctx context.Context, p *pool.Handle, field, value string) ([]model.AuditQueryResult, error)
	Count(ctx context.Context, p *pool.Handle) ([]model.VoucherCount, error)
}

// AuditHandler handles GET /<pool>/audit_query and GET /<pool>/voucher_counts.
type AuditHandler struct {
	service AuditServiceInterface
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc AuditServiceInterface) *AuditHandler {
	return &AuditHandler{service: svc}
}

var auditFields = map[string]struct{}{"request_id": {}, "transaction_id": {}, "user_id": {}}

// Query serves GET /<pool>/audit_query?field=<f>&value=<v>.
func (h *AuditHandler) Query(c *fiber.Ctx) error {
	requestID := c.Query("request_id")
	field := c.Query("field")
	value := c.Query("value")

	if _, ok := auditFields[field]; !ok {
		return writeError(c, requestID, apperr.BadRequestf("invalid field: %q", field))
	}
	if value == "" {
		return writeError(c, requestID, apperr.BadRequest("missing value parameter"))
	}

	p, err := pool.New(c.Params("pool"))
	if err != nil {
		return writeError(c, requestID, err)
	}

	results, err := h.service.AuditQuery(c.Context(), p, field, value)
	if err != nil {
		return writeError(c, requestID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"request_id": nullable(requestID), "results": results})
}

// Counts serves GET /<pool>/voucher_counts.
func (h *AuditHandler) Counts(c *fiber.Ctx) error {
	requestID := c.Query("request_id")

	p, err := pool.New(c.Params("pool"))
	if err != nil {
		return writeError(c, requestID, err)
	}

	counts, err := h.service.Count(c.Context(), p)
	if err != nil {
		return writeError(c, requestID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"request_id": nullable(requestID), "voucher_counts": counts})
}
