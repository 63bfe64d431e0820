package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/model"
	"github.com/acme-telco/voucher-pool-service/internal/pool"
	"github.com/acme-telco/voucher-pool-service/pkg/database"
)

// mockTx fakes pgx.Tx. Exec/Query/QueryRow are never exercised here: the
// service reaches storage exclusively through the mocked VoucherRepository
// and AuditRepository, never through the transaction handle directly.
type mockTx struct{}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("not supported") }
func (m *mockTx) Commit(ctx context.Context) error          { return nil }
func (m *mockTx) Rollback(ctx context.Context) error        { return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                              { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *mockTx) Conn() *pgx.Conn                                              { return nil }

type mockBeginner struct{}

func (m *mockBeginner) Begin(ctx context.Context) (pgx.Tx, error) { return &mockTx{}, nil }

// inMemoryVoucherRepo is a stateful fake good enough to drive the spec's
// concrete scenarios end to end without a real database.
type inMemoryVoucherRepo struct {
	vouchers []model.Voucher
	nextID   int64
}

func newInMemoryVoucherRepo(rows ...model.ImportRow) *inMemoryVoucherRepo {
	r := &inMemoryVoucherRepo{}
	now := time.Now()
	_ = r.BulkInsert(context.Background(), nil, "", rows, now)
	return r
}

func (r *inMemoryVoucherRepo) EnsureTables(ctx context.Context, q database.TxQuerier, t pool.Tables) error {
	return nil
}

func (r *inMemoryVoucherRepo) PickAndConsume(ctx context.Context, q database.TxQuerier, table, operator, denomination, reason string, now time.Time) (*model.Voucher, error) {
	for i := range r.vouchers {
		v := &r.vouchers[i]
		if v.Operator == operator && v.Denomination == denomination && !v.Used {
			v.Used = true
			v.Reason = &reason
			v.ModifiedAt = now
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryVoucherRepo) BulkInsert(ctx context.Context, q database.TxQuerier, table string, rows []model.ImportRow, now time.Time) error {
	for _, row := range rows {
		r.nextID++
		r.vouchers = append(r.vouchers, model.Voucher{
			ID: r.nextID, Operator: row.Operator, Denomination: row.Denomination, Code: row.Voucher,
			CreatedAt: now, ModifiedAt: now,
		})
	}
	return nil
}

func (r *inMemoryVoucherRepo) FindByIDs(ctx context.Context, q database.TxQuerier, table string, ids []int64) ([]model.Voucher, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Voucher
	for _, id := range ids {
		for _, v := range r.vouchers {
			if v.ID == id {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

func (r *inMemoryVoucherRepo) Count(ctx context.Context, q database.TxQuerier, table string) ([]model.VoucherCount, error) {
	return nil, nil
}

func (r *inMemoryVoucherRepo) ListOperators(ctx context.Context, q database.TxQuerier, table string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, v := range r.vouchers {
		if !seen[v.Operator] {
			seen[v.Operator] = true
			out = append(out, v.Operator)
		}
	}
	return out, nil
}

func (r *inMemoryVoucherRepo) ListDenominations(ctx context.Context, q database.TxQuerier, table string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, v := range r.vouchers {
		if !seen[v.Denomination] {
			seen[v.Denomination] = true
			out = append(out, v.Denomination)
		}
	}
	return out, nil
}

// inMemoryAuditRepo fakes the four audit tables in one struct, keyed by
// request id within each table.
type inMemoryAuditRepo struct {
	issues         map[string]model.AuditEntry
	imports        map[string]model.ImportAuditEntry
	exports        map[string]model.ExportAuditEntry
	exportedLinks  map[string][]int64
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{
		issues: map[string]model.AuditEntry{}, imports: map[string]model.ImportAuditEntry{},
		exports: map[string]model.ExportAuditEntry{}, exportedLinks: map[string][]int64{},
	}
}

func (r *inMemoryAuditRepo) FindByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.AuditEntry, error) {
	if e, ok := r.issues[requestID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (r *inMemoryAuditRepo) Insert(ctx context.Context, q database.TxQuerier, table string, e model.AuditEntry) error {
	r.issues[e.RequestID] = e
	return nil
}

func (r *inMemoryAuditRepo) Query(ctx context.Context, q database.TxQuerier, table, transactionID, userID string) ([]model.AuditQueryResult, error) {
	var matches []model.AuditEntry
	for _, e := range r.issues {
		if transactionID != "" && e.TransactionID != transactionID {
			continue
		}
		if userID != "" && e.UserID != userID {
			continue
		}
		matches = append(matches, e)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })

	results := make([]model.AuditQueryResult, len(matches))
	for i, e := range matches {
		results[i] = model.AuditQueryResult{
			RequestID: e.RequestID, TransactionID: e.TransactionID, UserID: e.UserID,
			RequestData: e.RequestData, ResponseData: e.ResponseData, Error: e.Error,
			CreatedAt: model.FormatAuditTimestamp(e.CreatedAt),
		}
	}
	return results, nil
}

func (r *inMemoryAuditRepo) FindImportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ImportAuditEntry, error) {
	if e, ok := r.imports[requestID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (r *inMemoryAuditRepo) InsertImport(ctx context.Context, q database.TxQuerier, table string, e model.ImportAuditEntry) error {
	r.imports[e.RequestID] = e
	return nil
}

func (r *inMemoryAuditRepo) FindExportByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.ExportAuditEntry, error) {
	if e, ok := r.exports[requestID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (r *inMemoryAuditRepo) InsertExport(ctx context.Context, q database.TxQuerier, table string, e model.ExportAuditEntry) error {
	r.exports[e.RequestID] = e
	return nil
}

func (r *inMemoryAuditRepo) ExportedVoucherIDs(ctx context.Context, q database.TxQuerier, table, requestID string) ([]int64, error) {
	return r.exportedLinks[requestID], nil
}

func (r *inMemoryAuditRepo) RecordExportedVoucher(ctx context.Context, q database.TxQuerier, table, requestID string, voucherID int64, now time.Time) error {
	r.exportedLinks[requestID] = append(r.exportedLinks[requestID], voucherID)
	return nil
}

func testHandle(t *testing.T) *pool.Handle {
	t.Helper()
	h, err := pool.New("p")
	require.NoError(t, err)
	return h
}

func intPtr(i int) *int            { return &i }
func strSlicePtr(s ...string) *[]string { return &s }

// Scenario A — basic issue: two vouchers, two distinct requests, then an
// identical replay, then a mismatched replay.
func TestPoolService_Issue_ScenarioA(t *testing.T) {
	vouchers := newInMemoryVoucherRepo(
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "Tr0"},
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "Tr1"},
	)
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)

	v0, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-0", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "red"})
	require.NoError(t, err)

	v1, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-1", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "red"})
	require.NoError(t, err)
	assert.NotEqual(t, v0.Voucher, v1.Voucher)

	replay, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-0", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "red"})
	require.NoError(t, err)
	assert.Equal(t, v0.Voucher, replay.Voucher)

	_, err = svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-0", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "blue"})
	require.ErrorIs(t, err, apperr.ErrAuditMismatch)
}

// Scenario B — no voucher available, replay of the error, mismatch on retry.
func TestPoolService_Issue_ScenarioB(t *testing.T) {
	vouchers := newInMemoryVoucherRepo() // empty pool
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)

	_, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-2", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "blue"})
	require.ErrorIs(t, err, apperr.ErrNoVoucher)

	_, err = svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-2", TransactionID: "tx-0", UserID: "u-0"}, IssueRequest{Operator: "Tank", Denomination: "blue"})
	require.ErrorIs(t, err, apperr.ErrNoVoucher)

	_, err = svc.Issue(context.Background(), p, model.AuditKey{RequestID: "req-2", TransactionID: "tx-0", UserID: "other-user"}, IssueRequest{Operator: "Tank", Denomination: "blue"})
	require.ErrorIs(t, err, apperr.ErrAuditMismatch)
}

// Scenario C — import idempotence.
func TestPoolService_Import_ScenarioC(t *testing.T) {
	vouchers := newInMemoryVoucherRepo()
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)
	rows := []model.ImportRow{{Operator: "Tank", Denomination: "red", Voucher: "Tr0"}}

	require.NoError(t, svc.Import(context.Background(), p, "imp-0", "md5-of-x", rows))
	assert.Len(t, vouchers.vouchers, 1)

	require.NoError(t, svc.Import(context.Background(), p, "imp-0", "md5-of-x", rows))
	assert.Len(t, vouchers.vouchers, 1, "re-import with identical md5 must not duplicate")

	err := svc.Import(context.Background(), p, "imp-0", "md5-of-y", rows)
	require.ErrorIs(t, err, apperr.ErrAuditMismatch)
}

// Scenario D — export partial, then exact replay, then a count mismatch.
func TestPoolService_Export_ScenarioD(t *testing.T) {
	vouchers := newInMemoryVoucherRepo(
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "R0"},
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "R1"},
		model.ImportRow{Operator: "Tank", Denomination: "blue", Voucher: "B0"},
		model.ImportRow{Operator: "Tank", Denomination: "blue", Voucher: "B1"},
	)
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)

	req := ExportRequest{Count: intPtr(1), Operators: strSlicePtr("Tank"), Denominations: strSlicePtr("red", "blue")}
	result, err := svc.Export(context.Background(), p, "req-E", req)
	require.NoError(t, err)
	assert.Len(t, result.Vouchers, 2)
	assert.Empty(t, result.Warnings)

	replay, err := svc.Export(context.Background(), p, "req-E", req)
	require.NoError(t, err)
	assert.Equal(t, result.Vouchers, replay.Vouchers)

	_, err = svc.Export(context.Background(), p, "req-E", ExportRequest{Count: intPtr(2), Operators: strSlicePtr("Tank"), Denominations: strSlicePtr("red", "blue")})
	require.ErrorIs(t, err, apperr.ErrAuditMismatch)
}

// Scenario E — export over-request: fewer vouchers available than requested.
func TestPoolService_Export_ScenarioE(t *testing.T) {
	vouchers := newInMemoryVoucherRepo(
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "R0"},
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "R1"},
	)
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)

	result, err := svc.Export(context.Background(), p, "req-F", ExportRequest{Count: intPtr(4), Operators: strSlicePtr("Tank"), Denominations: strSlicePtr("red")})
	require.NoError(t, err)
	assert.Len(t, result.Vouchers, 2)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "Insufficient vouchers available for 'Tank' 'red'.", result.Warnings[0])
}

func TestPoolService_Issue_NoPool(t *testing.T) {
	vouchers := &inMemoryVoucherRepo{}
	p := testHandle(t)

	// Simulate a missing pool by having the audit lookup itself fail with
	// a classified NoPoolError, as the real executor would when the
	// table does not exist.
	failing := &erroringAuditRepo{err: &database.NoPoolError{Pool: p.Name, Cause: errors.New("42P01")}}
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, failing)

	_, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: "r", TransactionID: "t", UserID: "u"}, IssueRequest{Operator: "Tank", Denomination: "red"})
	require.ErrorIs(t, err, apperr.ErrNoPool)
}

type erroringAuditRepo struct{ inMemoryAuditRepo; err error }

func (r *erroringAuditRepo) FindByRequestID(ctx context.Context, q database.TxQuerier, table, requestID string) (*model.AuditEntry, error) {
	return nil, r.err
}

// Scenario F — audit query ordering: three issue requests for the same
// user_id at increasing timestamps come back in issue order, each with a
// microsecond-precision ISO-8601 created_at.
func TestPoolService_AuditQuery_ScenarioF(t *testing.T) {
	vouchers := newInMemoryVoucherRepo(
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "F0"},
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "F1"},
		model.ImportRow{Operator: "Tank", Denomination: "red", Voucher: "F2"},
	)
	audit := newInMemoryAuditRepo()
	svc := NewPoolServiceWithBeginner(&mockBeginner{}, &mockTx{}, vouchers, audit)
	p := testHandle(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, reqID := range []string{"f-req-0", "f-req-1", "f-req-2"} {
		ts := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return ts }
		_, err := svc.Issue(context.Background(), p, model.AuditKey{RequestID: reqID, TransactionID: "tx-f", UserID: "u-f"}, IssueRequest{Operator: "Tank", Denomination: "red"})
		require.NoError(t, err)
	}

	results, err := svc.AuditQuery(context.Background(), p, "user_id", "u-f")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"f-req-0", "f-req-1", "f-req-2"}, []string{results[0].RequestID, results[1].RequestID, results[2].RequestID})
	for _, r := range results {
		_, err := time.Parse(model.AuditTimestampLayout, r.CreatedAt)
		assert.NoError(t, err, "created_at must be microsecond-precision ISO-8601")
	}
}
