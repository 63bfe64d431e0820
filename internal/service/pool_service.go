// Package service implements the five pool operations (issue, import,
// export, audit query, count) by composing the audit ledger with the
// voucher engine inside a single transaction per request.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
	"github.com/acme-telco/voucher-pool-service/pkg/database"
)

// noVoucherTag is the sentinel response_data body recorded in the audit
// ledger when an issue request found no matching voucher, and re-raised
// verbatim on replay.
const noVoucherTag = `"no_voucher"`

// VoucherRepository is the subset of repository.VoucherRepository the
// service depends on.
type VoucherRepository interface {
	EnsureTables(ctx context.Context, q database.TxQuerier, t pool.Tables) error
	PickAndConsume(ctx context.Context, q database.TxQuerier, table, operator, denomination, reason string, now time.Time) (*model.Voucher, error)
	BulkInsert(ctx context.Context, q database.TxQuerier, table string, rows []model.ImportRow, now time.Time) error
	FindByIDs(ctx context.Context, q database.TxQuerier, table string, ids []int64) ([]model.Voucher, error)
	Count(ctx context.Context, q database.TxQuerier, table string) ([]model.VoucherCount, error)
	ListOperators(ctx context.Context, q database.TxQuerier, table string) ([]string, error)
	ListDenominations(ctx context.Context, q database.TxQuerier, table string) ([]string, error)
}

// AuditRepository is the subset of repository.AuditRepository the service
// depends on.
type AuditRepository interface {
	FindByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.AuditEntry, error)
	Insert(ctx context.Context, q database.TxQuerier, table string, e model.AuditEntry) error
	Query(ctx context.Context, q database.TxQuerier, table, transactionID, userID string) ([]model.AuditQueryResult, error)
	FindImportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ImportAuditEntry, error)
	InsertImport(ctx context.Context, q database.TxQuerier, table string, e model.ImportAuditEntry) error
	FindExportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ExportAuditEntry, error)
	InsertExport(ctx context.Context, q database.TxQuerier, table string, e model.ExportAuditEntry) error
	ExportedVoucherIDs(ctx context.Context, q database.TxQuerier, table, requestID string) ([]int64, error)
	RecordExportedVoucher(ctx context.Context, q database.TxQuerier, table, requestID string, voucherID int64, now time.Time) error
}

// TxBeginner is implemented by *pgxpool.Pool; tests substitute a fake.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolService implements the five voucher pool operations. Mutating
// operations run inside a transaction opened via beginner; read-only
// operations (audit query, count) query reader directly since they need
// no transactional isolation.
type PoolService struct {
	beginner TxBeginner
	reader   database.TxQuerier
	vouchers VoucherRepository
	audit    AuditRepository
	now      func() time.Time
}

// NewPoolService creates a PoolService backed by a real connection pool.
func NewPoolService(db *pgxpool.Pool, vouchers VoucherRepository, audit AuditRepository) *PoolService {
	return &PoolService{beginner: db, reader: db, vouchers: vouchers, audit: audit, now: time.Now}
}

// NewPoolServiceWithBeginner creates a PoolService with a custom
// TxBeginner and reader. Used by tests to avoid a real database.
func NewPoolServiceWithBeginner(beginner TxBeginner, reader database.TxQuerier, vouchers VoucherRepository, audit AuditRepository) *PoolService {
	return &PoolService{beginner: beginner, reader: reader, vouchers: vouchers, audit: audit, now: time.Now}
}

// IssueRequest is the parameter set compared for idempotency on replay.
type IssueRequest struct {
	Operator     string `json:"operator"`
	Denomination string `json:"denomination"`
}

// Issue hands out one unused voucher matching operator/denomination, or
// replays a prior identical request.
func (s *PoolService) Issue(ctx context.Context, p *pool.Handle, key model.AuditKey, req IssueRequest) (*model.VoucherDTO, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal issue request: %w", err)
	}

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	exec := database.NewExecutor(tx, p.Name)

	prior, err := s.audit.FindByRequestID(ctx, exec, p.Tables.Audit, key.RequestID)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}
	if prior != nil {
		if prior.TransactionID != key.TransactionID || prior.UserID != key.UserID || !bytes.Equal(prior.RequestData, reqJSON) {
			return nil, apperr.ErrAuditMismatch
		}
		if prior.Error {
			return nil, apperr.ErrNoVoucher
		}
		var dto model.VoucherDTO
		if err := json.Unmarshal(prior.ResponseData, &dto); err != nil {
			return nil, fmt.Errorf("decode replayed voucher: %w", err)
		}
		return &dto, nil
	}

	now := s.now()
	voucher, err := s.vouchers.PickAndConsume(ctx, exec, p.Tables.Vouchers, req.Operator, req.Denomination, model.ReasonIssued, now)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}

	if voucher == nil {
		if err := s.audit.Insert(ctx, exec, p.Tables.Audit, model.AuditEntry{
			AuditKey:     key,
			RequestData:  reqJSON,
			ResponseData: []byte(noVoucherTag),
			Error:        true,
			CreatedAt:    now,
		}); err != nil {
			if isUniqueViolation(err) {
				_ = tx.Rollback(ctx)
				return s.Issue(ctx, p, key, req)
			}
			return nil, fmt.Errorf("record no-voucher audit: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return nil, apperr.ErrNoVoucher
	}

	dto := model.VoucherDTO{Operator: voucher.Operator, Denomination: voucher.Denomination, Voucher: voucher.Code}
	respJSON, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("marshal issued voucher: %w", err)
	}

	if err := s.audit.Insert(ctx, exec, p.Tables.Audit, model.AuditEntry{
		AuditKey:     key,
		RequestData:  reqJSON,
		ResponseData: respJSON,
		Error:        false,
		CreatedAt:    now,
	}); err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.Issue(ctx, p, key, req)
		}
		return nil, fmt.Errorf("record issue audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &dto, nil
}

// Import ensures the pool's tables exist and bulk-inserts rows, or
// replays a prior identical request keyed on content_md5.
func (s *PoolService) Import(ctx context.Context, p *pool.Handle, requestID, contentMD5 string, rows []model.ImportRow) error {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	exec := database.NewExecutor(tx, p.Name)

	if err := s.vouchers.EnsureTables(ctx, exec, p.Tables); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}

	prior, err := s.audit.FindImportByRequestID(ctx, exec, p.Tables.ImportAudit, requestID)
	if err != nil {
		return fmt.Errorf("lookup import audit: %w", err)
	}
	if prior != nil {
		if prior.ContentMD5 != contentMD5 {
			return apperr.ErrAuditMismatch
		}
		return nil
	}

	now := s.now()
	if err := s.audit.InsertImport(ctx, exec, p.Tables.ImportAudit, model.ImportAuditEntry{
		RequestID: requestID, ContentMD5: contentMD5, CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("record import audit: %w", err)
	}

	if err := s.vouchers.BulkInsert(ctx, exec, p.Tables.Vouchers, rows, now); err != nil {
		return fmt.Errorf("insert vouchers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ExportRequest is the parameter set compared for idempotency on replay,
// and the payload stored as request_data. Nil Operators/Denominations
// means "resolve to all known values at execution time"; an explicit
// empty slice means no pairs.
type ExportRequest struct {
	Count         *int      `json:"count"`
	Operators     *[]string `json:"operators"`
	Denominations *[]string `json:"denominations"`
}

// Export consumes vouchers across the cartesian product of operators and
// denominations, or replays a prior identical request.
func (s *PoolService) Export(ctx context.Context, p *pool.Handle, requestID string, req ExportRequest) (*model.ExportResult, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal export request: %w", err)
	}

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	exec := database.NewExecutor(tx, p.Name)

	prior, err := s.audit.FindExportByRequestID(ctx, exec, p.Tables.ExportAudit, requestID)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}
	if prior != nil {
		if !bytes.Equal(prior.RequestData, reqJSON) {
			return nil, apperr.ErrAuditMismatch
		}
		ids, err := s.audit.ExportedVoucherIDs(ctx, exec, p.Tables.ExportedVouchers, requestID)
		if err != nil {
			return nil, classifyNoPool(err, p.Name)
		}
		vouchers, err := s.vouchers.FindByIDs(ctx, exec, p.Tables.Vouchers, ids)
		if err != nil {
			return nil, classifyNoPool(err, p.Name)
		}
		var warnings []string
		if err := json.Unmarshal(prior.Warnings, &warnings); err != nil {
			return nil, fmt.Errorf("decode replayed warnings: %w", err)
		}
		return &model.ExportResult{Vouchers: toVoucherDTOs(vouchers), Warnings: warnings}, nil
	}

	operators, err := s.resolve(ctx, exec, p, req.Operators, s.vouchers.ListOperators)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}
	denominations, err := s.resolve(ctx, exec, p, req.Denominations, s.vouchers.ListDenominations)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}

	now := s.now()
	var dtos []model.VoucherDTO
	var warnings []string
	for _, op := range operators {
		for _, denom := range denominations {
			taken := 0
			for req.Count == nil || taken < *req.Count {
				voucher, err := s.vouchers.PickAndConsume(ctx, exec, p.Tables.Vouchers, op, denom, model.ReasonExported, now)
				if err != nil {
					return nil, classifyNoPool(err, p.Name)
				}
				if voucher == nil {
					break
				}
				if err := s.audit.RecordExportedVoucher(ctx, exec, p.Tables.ExportedVouchers, requestID, voucher.ID, now); err != nil {
					return nil, fmt.Errorf("record exported voucher: %w", err)
				}
				dtos = append(dtos, model.VoucherDTO{Operator: voucher.Operator, Denomination: voucher.Denomination, Voucher: voucher.Code})
				taken++
			}
			if req.Count != nil && taken < *req.Count {
				warnings = append(warnings, fmt.Sprintf("Insufficient vouchers available for '%s' '%s'.", op, denom))
			}
		}
	}
	if dtos == nil {
		dtos = []model.VoucherDTO{}
	}
	if warnings == nil {
		warnings = []string{}
	}

	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("marshal export warnings: %w", err)
	}
	if err := s.audit.InsertExport(ctx, exec, p.Tables.ExportAudit, model.ExportAuditEntry{
		RequestID: requestID, RequestData: reqJSON, Warnings: warningsJSON, CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("record export audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &model.ExportResult{Vouchers: dtos, Warnings: warnings}, nil
}

// resolve returns *values if non-nil, otherwise the pool's full known set
// via lister, preserving the spec's "null means all known values" rule.
func (s *PoolService) resolve(ctx context.Context, q database.TxQuerier, p *pool.Handle, values *[]string, lister func(context.Context, database.TxQuerier, string) ([]string, error)) ([]string, error) {
	if values != nil {
		return *values, nil
	}
	return lister(ctx, q, p.Tables.Vouchers)
}

func toVoucherDTOs(vouchers []model.Voucher) []model.VoucherDTO {
	dtos := make([]model.VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = model.VoucherDTO{Operator: v.Operator, Denomination: v.Denomination, Voucher: v.Code}
	}
	return dtos
}

// AuditQuery returns audit rows matching field/value, ordered by
// created_at. field is one of "request_id", "transaction_id", "user_id";
// the handler enforces that contract before calling in.
func (s *PoolService) AuditQuery(ctx context.Context, p *pool.Handle, field, value string) ([]model.AuditQueryResult, error) {
	exec := database.NewExecutor(s.reader, p.Name)

	if field == "request_id" {
		entry, err := s.audit.FindByRequestID(ctx, exec, p.Tables.Audit, value)
		if err != nil {
			return nil, classifyNoPool(err, p.Name)
		}
		if entry == nil {
			return []model.AuditQueryResult{}, nil
		}
		return []model.AuditQueryResult{{
			RequestID:     entry.RequestID,
			TransactionID: entry.TransactionID,
			UserID:        entry.UserID,
			RequestData:   entry.RequestData,
			ResponseData:  entry.ResponseData,
			Error:         entry.Error,
			CreatedAt:     model.FormatAuditTimestamp(entry.CreatedAt),
		}}, nil
	}

	var transactionID, userID string
	if field == "transaction_id" {
		transactionID = value
	} else {
		userID = value
	}

	results, err := s.audit.Query(ctx, exec, p.Tables.Audit, transactionID, userID)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}
	return results, nil
}

// Count returns the grouped voucher counts for the pool.
func (s *PoolService) Count(ctx context.Context, p *pool.Handle) ([]model.VoucherCount, error) {
	exec := database.NewExecutor(s.reader, p.Name)
	counts, err := s.vouchers.Count(ctx, exec, p.Tables.Vouchers)
	if err != nil {
		return nil, classifyNoPool(err, p.Name)
	}
	return counts, nil
}

func classifyNoPool(err error, poolName string) error {
	var npe *database.NoPoolError
	if errors.As(err, &npe) {
		return apperr.NoPool(poolName)
	}
	return err
}

// isUniqueViolation reports whether err is SQLSTATE 23505: a concurrent
// request with the same request_id committed its audit row first, so
// re-running the request in a fresh transaction replays that outcome.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
