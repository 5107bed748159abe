package google

import (
	"strings"

	"expensetracker/internal/core"
	"expensetracker/internal/export"
)

// snapshotValues lays out the export header and rows as a Sheets value matrix.
func snapshotValues(txs []core.Transaction) [][]interface{} {
	values := make([][]interface{}, 0, len(txs)+1)
	values = append(values, toInterfaces(export.Header()))
	for i, row := range export.Rows(txs) {
		cells := toInterfaces(row)
		// keep amounts numeric so sheet formulas can sum them
		cells[len(cells)-1] = txs[i].Amount
		values = append(values, cells)
	}
	return values
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// quoteSheet wraps a tab title for use in A1 notation.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
