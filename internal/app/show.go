package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/storage"
)

// Show prints the most recent ledger records, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	ledger, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	records, err := ledger.Latest(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeRecords(a.out(), records)
}

func writeRecords(out io.Writer, records []storage.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := []string{"ID", "Date"}
	for _, col := range fuel.Columns {
		header = append(header, col.Label())
	}
	fmt.Fprintln(writer, strings.Join(header, "\t"))

	for _, r := range records {
		row := []string{fmt.Sprint(r.ID), r.DateKey()}
		for _, col := range fuel.Columns {
			row = append(row, formatPrice(r, col))
		}
		fmt.Fprintln(writer, strings.Join(row, "\t"))
	}

	return writer.Flush()
}

// formatPrice renders a stored price in cents per litre, or "-" when missing.
func formatPrice(r storage.Record, col fuel.Column) string {
	v, ok := r.Price(col)
	if !ok {
		return "-"
	}
	return v.Shift(-1).StringFixed(1)
}

func (a *App) out() io.Writer {
	if a.Out != nil {
		return a.Out
	}
	return os.Stdout
}
