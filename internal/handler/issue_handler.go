package handler

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/httputil"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
	"github.com/acme-telco/voucher-pool-service/internal/service"
)

// IssueServiceInterface is the subset of PoolService the issue handler needs.
type IssueServiceInterface interface {
	Issue(ctx context.Context, p *pool.Handle, key model.AuditKey, req service.IssueRequest) (*model.VoucherDTO, error)
}

// IssueHandler handles PUT /<pool>/issue/<operator>/<request_id>.
type IssueHandler struct {
	service IssueServiceInterface
}

// NewIssueHandler creates a new IssueHandler.
func NewIssueHandler(svc IssueServiceInterface) *IssueHandler {
	return &IssueHandler{service: svc}
}

type issueBody struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Denomination  string `json:"denomination"`
}

// Issue serves PUT /<pool>/issue/<operator>/<request_id>.
func (h *IssueHandler) Issue(c *fiber.Ctx) error {
	requestID := c.Params("request_id")

	body := c.Body()
	if err := httputil.ValidateParams(body, []string{"transaction_id", "user_id", "denomination"}, nil); err != nil {
		return writeError(c, requestID, err)
	}

	var req issueBody
	if err := json.Unmarshal(body, &req); err != nil {
		return writeError(c, requestID, apperr.BadRequest("invalid JSON body"))
	}

	p, err := pool.New(c.Params("pool"))
	if err != nil {
		return writeError(c, requestID, err)
	}

	key := model.AuditKey{RequestID: requestID, TransactionID: req.TransactionID, UserID: req.UserID}
	voucher, err := h.service.Issue(c.Context(), p, key, service.IssueRequest{
		Operator:     c.Params("operator"),
		Denomination: req.Denomination,
	})
	if err != nil {
		return writeError(c, requestID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"request_id": requestID, "voucher": voucher})
}
