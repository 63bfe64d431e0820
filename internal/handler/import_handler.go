package handler

import (
	"bytes"
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/acme-telco/voucher-pool-service/internal/csvutil"
	"github.com/acme-telco/voucher-pool-service/internal/httputil"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
)

// ImportServiceInterface is the subset of PoolService the import handler needs.
type ImportServiceInterface interface {
	Import(ctx context.Context, p *pool.Handle, requestID, contentMD5 string, rows []model.ImportRow) error
}

// ImportHandler handles PUT /<pool>/import/<request_id>.
type ImportHandler struct {
	service ImportServiceInterface
}

// NewImportHandler creates a new ImportHandler.
func NewImportHandler(svc ImportServiceInterface) *ImportHandler {
	return &ImportHandler{service: svc}
}

// Import serves PUT /<pool>/import/<request_id>.
func (h *ImportHandler) Import(c *fiber.Ctx) error {
	requestID := c.Params("request_id")
	body := c.Body()

	contentMD5 := c.Get("Content-MD5")
	if err := httputil.VerifyContentMD5(contentMD5, body); err != nil {
		return writeError(c, requestID, err)
	}

	rows, err := csvutil.DecodeImportRows(bytes.NewReader(body))
	if err != nil {
		return writeError(c, requestID, err)
	}

	p, err := pool.New(c.Params("pool"))
	if err != nil {
		return writeError(c, requestID, err)
	}

	if err := h.service.Import(c.Context(), p, requestID, contentMD5, rows); err != nil {
		return writeError(c, requestID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"request_id": requestID, "imported": true})
}
