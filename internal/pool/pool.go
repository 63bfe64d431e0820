// Package pool builds the stateless per-request handle that names a
// voucher pool and its five physical tables.
package pool

import (
	"regexp"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
)

// nameRe matches the set of pool names that are safe to interpolate
// directly into SQL identifiers (table names cannot be bound as query
// parameters in pgx). Anything outside this set is rejected before it
// ever reaches a query string.
var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Tables holds the five physical table names that make up one pool.
type Tables struct {
	Vouchers         string
	Audit            string
	ImportAudit      string
	ExportAudit      string
	ExportedVouchers string
}

// Handle is a cheap, stateless, per-request reference to a named voucher
// pool. It carries no database connection and no mutable state; a fresh
// Handle is built for every request.
type Handle struct {
	Name   string
	Tables Tables
}

// New validates name and builds a Handle. It performs no I/O: whether the
// pool's tables actually exist is determined later, by the storage layer.
func New(name string) (*Handle, error) {
	if !nameRe.MatchString(name) {
		return nil, apperr.BadRequestf("invalid pool name: %q", name)
	}
	return &Handle{
		Name: name,
		Tables: Tables{
			Vouchers:         name + "_vouchers",
			Audit:            name + "_audit",
			ImportAudit:      name + "_import_audit",
			ExportAudit:      name + "_export_audit",
			ExportedVouchers: name + "_exported_vouchers",
		},
	}, nil
}
