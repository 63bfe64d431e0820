package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/pkg/database"
)

// AuditRepository provides data access for a pool's issue audit ledger,
// import_audit table, export_audit table, and exported_vouchers table.
type AuditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// FindByRequestID looks up a prior issue audit entry by request id alone.
// Returns (nil, nil) if no entry exists yet for this request id.
func (r *AuditRepository) FindByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.AuditEntry, error) {
	query := fmt.Sprintf(`SELECT request_id, transaction_id, user_id, request_data, response_data, error, created_at FROM %s WHERE request_id = $1`, table)

	var e model.AuditEntry
	err := q.QueryRow(ctx, query, requestID).Scan(
		&e.RequestID, &e.TransactionID, &e.UserID, &e.RequestData, &e.ResponseData, &e.Error, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find audit entry: %w", err)
	}
	return &e, nil
}

// Insert records a new issue audit entry.
func (r *AuditRepository) Insert(ctx context.Context, q database.TxQuerier, table string, e model.AuditEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (request_id, transaction_id, user_id, request_data, response_data, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`, table)
	_, err := q.Exec(ctx, query, e.RequestID, e.TransactionID, e.UserID, e.RequestData, e.ResponseData, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query searches the audit ledger by optional transaction id and/or user id.
// At least one of the two must be non-empty; callers enforce that earlier.
func (r *AuditRepository) Query(ctx context.Context, q database.TxQuerier, table, transactionID, userID string) ([]model.AuditQueryResult, error) {
	var (
		query string
		args  []any
	)
	switch {
	case transactionID != "" && userID != "":
		query = fmt.Sprintf(`SELECT request_id, transaction_id, user_id, request_data, response_data, error, created_at FROM %s WHERE transaction_id = $1 AND user_id = $2 ORDER BY created_at`, table)
		args = []any{transactionID, userID}
	case transactionID != "":
		query = fmt.Sprintf(`SELECT request_id, transaction_id, user_id, request_data, response_data, error, created_at FROM %s WHERE transaction_id = $1 ORDER BY created_at`, table)
		args = []any{transactionID}
	default:
		query = fmt.Sprintf(`SELECT request_id, transaction_id, user_id, request_data, response_data, error, created_at FROM %s WHERE user_id = $1 ORDER BY created_at`, table)
		args = []any{userID}
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit ledger: %w", err)
	}
	defer rows.Close()

	results := []model.AuditQueryResult{}
	for rows.Next() {
		var (
			res       model.AuditQueryResult
			createdAt time.Time
		)
		if err := rows.Scan(&res.RequestID, &res.TransactionID, &res.UserID, &res.RequestData, &res.ResponseData, &res.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		res.CreatedAt = model.FormatAuditTimestamp(createdAt)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit ledger: %w", err)
	}
	return results, nil
}

// FindImportByRequestID looks up a prior import_audit entry by request id.
func (r *AuditRepository) FindImportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ImportAuditEntry, error) {
	query := fmt.Sprintf(`SELECT request_id, content_md5, created_at FROM %s WHERE request_id = $1`, table)

	var e model.ImportAuditEntry
	err := q.QueryRow(ctx, query, requestID).Scan(&e.RequestID, &e.ContentMD5, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find import audit entry: %w", err)
	}
	return &e, nil
}

// InsertImport records a new import_audit entry.
func (r *AuditRepository) InsertImport(ctx context.Context, q database.TxQuerier, table string, e model.ImportAuditEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (request_id, content_md5, created_at) VALUES ($1, $2, $3)`, table)
	if _, err := q.Exec(ctx, query, e.RequestID, e.ContentMD5, e.CreatedAt); err != nil {
		return fmt.Errorf("insert import audit entry: %w", err)
	}
	return nil
}

// FindExportByRequestID looks up a prior export_audit entry by request id.
func (r *AuditRepository) FindExportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ExportAuditEntry, error) {
	query := fmt.Sprintf(`SELECT request_id, request_data, warnings, created_at FROM %s WHERE request_id = $1`, table)

	var e model.ExportAuditEntry
	err := q.QueryRow(ctx, query, requestID).Scan(&e.RequestID, &e.RequestData, &e.Warnings, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find export audit entry: %w", err)
	}
	return &e, nil
}

// InsertExport records a new export_audit entry.
func (r *AuditRepository) InsertExport(ctx context.Context, q database.TxQuerier, table string, e model.ExportAuditEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (request_id, request_data, warnings, created_at) VALUES ($1, $2, $3, $4)`, table)
	if _, err := q.Exec(ctx, query, e.RequestID, e.RequestData, e.Warnings, e.CreatedAt); err != nil {
		return fmt.Errorf("insert export audit entry: %w", err)
	}
	return nil
}

// ExportedVoucherIDs returns the voucher ids already recorded as exported
// under requestID, used to rebuild an idempotent export's response body.
func (r *AuditRepository) ExportedVoucherIDs(ctx context.Context, q database.TxQuerier, table, requestID string) ([]int64, error) {
	query := fmt.Sprintf(`SELECT voucher_id FROM %s WHERE request_id = $1 ORDER BY id`, table)
	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list exported voucher ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exported voucher id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exported voucher ids: %w", err)
	}
	return ids, nil
}

// RecordExportedVoucher links a voucher id to the export request that
// consumed it.
func (r *AuditRepository) RecordExportedVoucher(ctx context.Context, q database.TxQuerier, table, requestID string, voucherID int64, now time.Time) error {
	query := fmt.Sprintf(`INSERT INTO %s (request_id, voucher_id, created_at) VALUES ($1, $2, $3)`, table)
	if _, err := q.Exec(ctx, query, requestID, voucherID, now); err != nil {
		return fmt.Errorf("record exported voucher: %w", err)
	}
	return nil
}
