// Package model holds the persistence structs and wire DTOs shared by the
// repository, service, and handler layers.
package model

import (
	"encoding/json"
	"time"
)

// AuditTimestampLayout formats a created_at value as ISO-8601 with
// microsecond precision, matching the audit query projection.
const AuditTimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatAuditTimestamp renders t per AuditTimestampLayout, in UTC.
func FormatAuditTimestamp(t time.Time) string {
	return t.UTC().Format(AuditTimestampLayout)
}

// Reason values recorded against a voucher when it is consumed.
const (
	ReasonIssued   = "issued"
	ReasonExported = "exported"
)

// Voucher is one row of a pool's vouchers table.
type Voucher struct {
	ID           int64
	Operator     string
	Denomination string
	Code         string
	Used         bool
	Reason       *string
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// VoucherDTO is the wire projection of a voucher returned to callers:
// operator, denomination, and code only, no id, no timestamps.
type VoucherDTO struct {
	Operator     string `json:"operator"`
	Denomination string `json:"denomination"`
	Voucher      string `json:"voucher"`
}

// ImportRow is one CSV-decoded row awaiting insertion.
type ImportRow struct {
	Operator     string
	Denomination string
	Voucher      string
}

// AuditKey is the mandatory triple attached to every mutating request.
type AuditKey struct {
	RequestID     string `json:"request_id"`
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
}

// AuditEntry is one row of a pool's issue audit ledger.
type AuditEntry struct {
	AuditKey
	RequestData  []byte
	ResponseData []byte
	Error        bool
	CreatedAt    time.Time
}

// AuditQueryResult is the projection returned by the audit_query operation.
type AuditQueryResult struct {
	RequestID     string          `json:"request_id"`
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	RequestData   json.RawMessage `json:"request_data"`
	ResponseData  json.RawMessage `json:"response_data"`
	Error         bool            `json:"error"`
	CreatedAt     string          `json:"created_at"`
}

// VoucherCount is one row of the grouped count report.
type VoucherCount struct {
	Operator     string `json:"operator"`
	Denomination string `json:"denomination"`
	Used         bool   `json:"used"`
	Count        int64  `json:"count"`
}

// ImportAuditEntry is one row of a pool's import_audit table.
type ImportAuditEntry struct {
	RequestID  string
	ContentMD5 string
	CreatedAt  time.Time
}

// ExportAuditEntry is one row of a pool's export_audit table.
type ExportAuditEntry struct {
	RequestID   string
	RequestData []byte
	Warnings    []byte
	CreatedAt   time.Time
}

// ExportRequest is the decoded, optional-fields body of an export call.
// A nil Operators/Denominations means "all known values"; an explicit
// empty slice means "no pairs to process".
type ExportRequest struct {
	Count         *int      `json:"count" validate:"omitempty,gte=0"`
	Operators     *[]string `json:"operators" validate:"omitempty,dive,notblank"`
	Denominations *[]string `json:"denominations" validate:"omitempty,dive,notblank"`
}

// ExportResult is the outcome of an export call, both for a fresh export
// and for a replayed one.
type ExportResult struct {
	Vouchers []VoucherDTO `json:"vouchers"`
	Warnings []string     `json:"warnings"`
}
