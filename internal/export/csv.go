// Package export renders solve artifacts as CSV files and XLSX workbooks.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/shopspring/decimal"
)

const cashPlaces = 2

var (
	tableHeader      = []string{"period", "inventory", "cash", "order_quantity"}
	policyHeader     = []string{"period", "s", "C", "S"}
	thresholdsHeader = []string{"period", "inventory", "cash_threshold"}
)

// money renders v with a fixed number of decimals; float formatting would
// print values like 14.999999999.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(cashPlaces)
}

func quantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteTableCSV writes the optimal action table, one row per state.
func WriteTableCSV(w io.Writer, rows []domain.OptimalActionRecord) error {
	return writeCSV(w, tableHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{strconv.Itoa(r.Period), quantity(r.Inventory), money(r.Cash), quantity(r.OrderQuantity)}
	})
}

// WritePolicyCSV writes one (s, C, S) row per period.
func WritePolicyCSV(w io.Writer, rows []domain.ThresholdPolicyRow) error {
	return writeCSV(w, policyHeader, len(rows), func(i int) []string {
		r := rows[i]
		return []string{strconv.Itoa(r.Period), quantity(r.ReorderPoint), money(r.CashThreshold), quantity(r.OrderUpTo)}
	})
}

// WriteThresholdsCSV writes the per-inventory cash thresholds.
func WriteThresholdsCSV(w io.Writer, entries []domain.CashThreshold) error {
	return writeCSV(w, thresholdsHeader, len(entries), func(i int) []string {
		e := entries[i]
		return []string{strconv.Itoa(e.Period), quantity(e.Inventory), money(e.Threshold)}
	})
}

func writeCSV(w io.Writer, header []string, n int, row func(i int) []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTableCSV parses a table written by WriteTableCSV. Columns are matched by
// header name, so extra columns are ignored.
func ReadTableCSV(r io.Reader) ([]domain.OptimalActionRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range tableHeader {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("table csv is missing column %q", col)
		}
	}

	var rows []domain.OptimalActionRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		period, err := strconv.Atoi(rec[idx["period"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad period: %w", line, err)
		}
		var vals [3]float64
		for k, col := range tableHeader[1:] {
			vals[k], err = strconv.ParseFloat(rec[idx[col]], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s: %w", line, col, err)
			}
		}
		rows = append(rows, domain.OptimalActionRecord{
			Period:        period,
			Inventory:     vals[0],
			Cash:          vals[1],
			OrderQuantity: vals[2],
		})
	}
	return rows, nil
}
