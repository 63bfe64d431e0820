// Package csvutil decodes the CSV body accepted by the import operation.
package csvutil

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/acme-telco/voucher-pool-service/internal/apperr"
	"github.com/acme-telco/voucher-pool-service/internal/model"
)

var requiredColumns = []string{"operator", "denomination", "voucher"}

// DecodeImportRows reads a CSV document whose header names operator,
// denomination, and voucher (in any order, case-insensitive) and returns
// one ImportRow per data row.
func DecodeImportRows(r io.Reader) ([]model.ImportRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, apperr.BadRequest("empty CSV body")
		}
		return nil, apperr.BadRequestf("read CSV header: %s", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, apperr.BadRequestf("CSV header missing column %q", col)
		}
	}

	var rows []model.ImportRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.BadRequestf("read CSV row: %s", err)
		}
		rows = append(rows, model.ImportRow{
			Operator:     record[index["operator"]],
			Denomination: record[index["denomination"]],
			Voucher:      record[index["voucher"]],
		})
	}
	return rows, nil
}
