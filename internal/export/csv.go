// Package export renders a transaction snapshot as tabular rows.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"expensetracker/internal/core"
)

// Filename is the suggested download name for a CSV export.
const Filename = "expenses_export.csv"

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("nothing to export")

// Header is the first row of every export.
func Header() []string {
	return []string{"Date", "Type", "Category", "Description", "Amount"}
}

// Rows converts txs to string rows in the given order, without the header.
func Rows(txs []core.Transaction) [][]string {
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, []string{
			tx.Date,
			string(tx.Type),
			tx.Category,
			tx.Description,
			core.FormatAmount(tx.Amount),
		})
	}
	return rows
}

// WriteCSV writes the header followed by one row per transaction.
func WriteCSV(w io.Writer, txs []core.Transaction) error {
	if len(txs) == 0 {
		return ErrEmpty
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(Rows(txs)); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
