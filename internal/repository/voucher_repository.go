package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
	"github.com/acme-telco/voucher-pool-service/pkg/database"
)

// VoucherRepository provides data access for a pool's vouchers table and
// the DDL that creates a pool's full table set.
type VoucherRepository struct{}

// NewVoucherRepository creates a new VoucherRepository.
func NewVoucherRepository() *VoucherRepository {
	return &VoucherRepository{}
}

// EnsureTables creates a pool's five tables if they do not already exist.
// Safe to call on every import: CREATE TABLE IF NOT EXISTS makes the
// operation naturally idempotent without needing to inspect driver errors.
func (r *VoucherRepository) EnsureTables(ctx context.Context, q database.TxQuerier, t pool.Tables) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			operator TEXT NOT NULL,
			denomination TEXT NOT NULL,
			voucher TEXT NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL,
			reason TEXT
		)`, t.Vouchers),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			transaction_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			request_data TEXT NOT NULL,
			response_data TEXT NOT NULL,
			error BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, t.Audit),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_txn_idx ON %s (transaction_id)`, t.Audit, t.Audit),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_idx ON %s (user_id)`, t.Audit, t.Audit),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			content_md5 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, t.ImportAudit),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			request_data TEXT NOT NULL,
			warnings TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, t.ExportAudit),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			voucher_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, t.ExportedVouchers),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_request_idx ON %s (request_id)`, t.ExportedVouchers, t.ExportedVouchers),
	}
	for _, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pool tables: %w", err)
		}
	}
	return nil
}

// PickAndConsume selects the first unused voucher matching operator and
// denomination and marks it used with reason, all within the caller's
// transaction. Returns (nil, nil) if no matching voucher is available.
//
// The SELECT ... FOR UPDATE closes the read-then-update window: two
// concurrent transactions racing for the same row will serialize on the
// row lock, so at most one of them ever sees it as unused.
func (r *VoucherRepository) PickAndConsume(ctx context.Context, q database.TxQuerier, table, operator, denomination, reason string, now time.Time) (*model.Voucher, error) {
	selectQuery := fmt.Sprintf(
		`SELECT id, operator, denomination, voucher FROM %s WHERE operator = $1 AND denomination = $2 AND used = false LIMIT 1 FOR UPDATE`, table)

	var v model.Voucher
	err := q.QueryRow(ctx, selectQuery, operator, denomination).Scan(&v.ID, &v.Operator, &v.Denomination, &v.Code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select voucher: %w", err)
	}

	updateQuery := fmt.Sprintf(`UPDATE %s SET used = true, reason = $1, modified_at = $2 WHERE id = $3`, table)
	if _, err := q.Exec(ctx, updateQuery, reason, now, v.ID); err != nil {
		return nil, fmt.Errorf("consume voucher: %w", err)
	}

	v.Used = true
	v.Reason = &reason
	v.ModifiedAt = now
	return &v, nil
}

// BulkInsert inserts rows as fresh, unused vouchers.
//
// NOTE: this builds one multi-row INSERT for the whole batch. If imports
// grow large enough to hit pgx's parameter limit, this will need to be
// chunked; streaming import is explicitly out of scope for now.
func (r *VoucherRepository) BulkInsert(ctx context.Context, q database.TxQuerier, table string, rows []model.ImportRow, now time.Time) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (operator, denomination, voucher, used, created_at, modified_at) VALUES ", table)
	args := make([]any, 0, len(rows)*6)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, row.Operator, row.Denomination, row.Voucher, false, now, now)
	}

	if _, err := q.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert vouchers: %w", err)
	}
	return nil
}

// Count returns the grouped (operator, denomination, used) counts.
func (r *VoucherRepository) Count(ctx context.Context, q database.TxQuerier, table string) ([]model.VoucherCount, error) {
	query := fmt.Sprintf(`SELECT operator, denomination, used, COUNT(*) FROM %s GROUP BY operator, denomination, used`, table)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count vouchers: %w", err)
	}
	defer rows.Close()

	counts := []model.VoucherCount{}
	for rows.Next() {
		var c model.VoucherCount
		if err := rows.Scan(&c.Operator, &c.Denomination, &c.Used, &c.Count); err != nil {
			return nil, fmt.Errorf("scan voucher count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voucher counts: %w", err)
	}
	return counts, nil
}

// FindByIDs returns the vouchers with the given ids, in the order of ids;
// ids with no matching row are skipped. Used to rebuild a replayed
// export's response body.
func (r *VoucherRepository) FindByIDs(ctx context.Context, q database.TxQuerier, table string, ids []int64) ([]model.Voucher, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, operator, denomination, voucher FROM %s WHERE id IN (%s)`, table, strings.Join(placeholders, ", "))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find vouchers by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]model.Voucher, len(ids))
	for rows.Next() {
		var v model.Voucher
		if err := rows.Scan(&v.ID, &v.Operator, &v.Denomination, &v.Code); err != nil {
			return nil, fmt.Errorf("scan voucher: %w", err)
		}
		byID[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vouchers: %w", err)
	}

	ordered := make([]model.Voucher, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			ordered = append(ordered, v)
		}
	}
	return ordered, nil
}

// ListOperators returns the distinct operator values present in the pool.
func (r *VoucherRepository) ListOperators(ctx context.Context, q database.TxQuerier, table string) ([]string, error) {
	return r.listDistinct(ctx, q, table, "operator")
}

// ListDenominations returns the distinct denomination values present in the pool.
func (r *VoucherRepository) ListDenominations(ctx context.Context, q database.TxQuerier, table string) ([]string, error) {
	return r.listDistinct(ctx, q, table, "denomination")
}

func (r *VoucherRepository) listDistinct(ctx context.Context, q database.TxQuerier, table, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s`, column, table)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list distinct %s: %w", column, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct %s: %w", column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distinct %s: %w", column, err)
	}
	return values, nil
}
