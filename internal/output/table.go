package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// Table is a ready-made Tabular.
type Table struct {
	Columns []string
	Data    [][]string
}

// Header returns the column names.
func (t Table) Header() []string { return t.Columns }

// Rows returns the cells.
func (t Table) Rows() [][]string { return t.Data }

// Append adds a row.
func (t *Table) Append(cells ...string) {
	t.Data = append(t.Data, cells)
}

func writeTable(w io.Writer, t Tabular) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := t.Header()
	upper := make([]string, len(header))
	for i, h := range header {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Price renders an amount with thousands separators, or "-" when unknown.
func Price(amount *int64, currency string) string {
	if amount == nil {
		return "-"
	}
	s := humanize.Comma(*amount)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// Count renders an optional counter.
func Count(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanize.Comma(*n)
}

// When renders a timestamp with its relative age, or "-" for nil/zero.
func When(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04") + " (" + humanize.RelTime(*t, now, "ago", "from now") + ")"
}

// Bytes renders a byte count.
func Bytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}
