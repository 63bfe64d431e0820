package handler

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/httputil"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
	"github.com/acme-telco/voucher-pool-service/internal/service"
)

// ExportServiceInterface is the subset of PoolService the export handler needs.
type ExportServiceInterface interface {
	Export(ctx context.Context, p *pool.Handle, requestID string, req service.ExportRequest) (*model.ExportResult, error)
}

// ExportHandler handles PUT /<pool>/export/<request_id>.
type ExportHandler struct {
	service   ExportServiceInterface
	validator *validator.Validate
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(svc ExportServiceInterface, v *validator.Validate) *ExportHandler {
	return &ExportHandler{service: svc, validator: v}
}

// Export serves PUT /<pool>/export/<request_id>. count, operators, and
// denominations are all optional; omitted fields are treated as "all".
func (h *ExportHandler) Export(c *fiber.Ctx) error {
	requestID := c.Params("request_id")
	body := c.Body()

	if err := httputil.ValidateParams(body, nil, []string{"count", "operators", "denominations"}); err != nil {
		return writeError(c, requestID, err)
	}

	var req model.ExportRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return writeError(c, requestID, apperr.BadRequest("invalid JSON body"))
		}
	}
	if err := h.validator.Struct(req); err != nil {
		return writeError(c, requestID, apperr.BadRequestf("invalid export request: %v", err))
	}

	p, err := pool.New(c.Params("pool"))
	if err != nil {
		return writeError(c, requestID, err)
	}

	result, err := h.service.Export(c.Context(), p, requestID, service.ExportRequest{
		Count:         req.Count,
		Operators:     req.Operators,
		Denominations: req.Denominations,
	})
	if err != nil {
		return writeError(c, requestID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"request_id": requestID,
		"vouchers":   result.Vouchers,
		"warnings":   result.Warnings,
	})
}
