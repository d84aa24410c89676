package export

import (
	"fmt"
	"io"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet    = "Summary"
	policySheet     = "Policy"
	thresholdsSheet = "Thresholds"
	tableSheet      = "Table"
)

// WriteWorkbook writes result as an XLSX workbook with a summary sheet and one
// sheet per artifact. The optimal table is streamed since it can be large.
func WriteWorkbook(w io.Writer, result *domain.SolveResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	for i, kv := range summaryRows(result) {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &kv); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	if err := writeSheet(f, policySheet, policyHeader, len(result.Policy), func(i int) []interface{} {
		r := result.Policy[i]
		return []interface{}{r.Period, r.ReorderPoint, r.CashThreshold, r.OrderUpTo}
	}); err != nil {
		return err
	}
	if err := writeSheet(f, thresholdsSheet, thresholdsHeader, len(result.Thresholds), func(i int) []interface{} {
		e := result.Thresholds[i]
		return []interface{}{e.Period, e.Inventory, e.Threshold}
	}); err != nil {
		return err
	}
	if err := writeSheet(f, tableSheet, tableHeader, len(result.Table), func(i int) []interface{} {
		r := result.Table[i]
		return []interface{}{r.Period, r.Inventory, r.Cash, r.OrderQuantity}
	}); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func summaryRows(result *domain.SolveResult) [][]interface{} {
	rows := [][]interface{}{
		{"params_hash", result.ParamsHash},
		{"criteria", string(result.Parameters.Criteria)},
		{"horizon", result.Parameters.Horizon()},
		{"optimal_value", money(result.OptimalValue)},
		{"final_cash", money(result.FinalCash)},
		{"first_action", result.FirstAction},
		{"state_count", result.StateCount},
		{"mismatches", result.Mismatches},
	}
	if s := result.OptimalSim; s != nil {
		rows = append(rows, []interface{}{"sim_optimal_mean", money(s.Mean)}, []interface{}{"sim_optimal_half_width", money(s.HalfWidth)})
	}
	if s := result.PolicySim; s != nil {
		rows = append(rows, []interface{}{"sim_policy_mean", money(s.Mean)}, []interface{}{"sim_policy_half_width", money(s.HalfWidth)})
	}
	if g := result.OptimalityGap; g != nil {
		rows = append(rows, []interface{}{"optimality_gap", *g})
	}
	return rows
}

func writeSheet(f *excelize.File, sheet string, header []string, n int, row func(i int) []interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream for %s: %w", sheet, err)
	}

	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i := 0; i < n; i++ {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, row(i)); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i, err)
		}
	}
	return sw.Flush()
}
