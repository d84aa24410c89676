package export

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/xuri/excelize/v2"
)

func sampleResult() *domain.SolveResult {
	gap := 0.02
	return &domain.SolveResult{
		ParamsHash:   "abc",
		Parameters:   domain.DefaultParameters(),
		OptimalValue: 10.0 / 3,
		FinalCash:    15 + 10.0/3,
		FirstAction:  20,
		StateCount:   3,
		Mismatches:   1,
		Policy: []domain.ThresholdPolicyRow{
			{Period: 1, ReorderPoint: 0, CashThreshold: 15, OrderUpTo: 20},
			{Period: 2, ReorderPoint: 4, CashThreshold: 11.005, OrderUpTo: 18},
		},
		Thresholds: []domain.CashThreshold{{Period: 2, Inventory: 0, Threshold: 11}},
		Table: []domain.OptimalActionRecord{
			{Period: 1, Inventory: 0, Cash: 15, OrderQuantity: 20},
			{Period: 2, Inventory: 3, Cash: 7.5, OrderQuantity: 0},
		},
		PolicySim:     &domain.SimulationSummary{Samples: 10, Mean: 18, HalfWidth: 0.5},
		OptimalityGap: &gap,
	}
}

func TestPolicyCSVUsesFixedCashPrecision(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePolicyCSV(&buf, sampleResult().Policy); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "period,s,C,S\n1,0,15.00,20\n2,4,11.01,18\n"
	if buf.String() != want {
		t.Fatalf("got\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestTableCSVRoundTrip(t *testing.T) {
	rows := sampleResult().Table
	var buf bytes.Buffer
	if err := WriteTableCSV(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadTableCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("got %+v want %+v", got, rows)
	}
}

func TestReadTableCSVByHeaderName(t *testing.T) {
	in := "cash,order_quantity,note,period,inventory\n12,3,x,2,5\n"
	got, err := ReadTableCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []domain.OptimalActionRecord{{Period: 2, Inventory: 5, Cash: 12, OrderQuantity: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v", got)
	}

	if _, err := ReadTableCSV(strings.NewReader("period,inventory\n1,2\n")); err == nil {
		t.Fatal("expected missing column error")
	}
	if _, err := ReadTableCSV(strings.NewReader("period,inventory,cash,order_quantity\n1,x,2,3\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWorkbookSheets(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, sampleResult()); err != nil {
		t.Fatalf("workbook: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); !reflect.DeepEqual(got, []string{summarySheet, policySheet, thresholdsSheet, tableSheet}) {
		t.Fatalf("sheets %v", got)
	}
	v, err := f.GetCellValue(summarySheet, "B4")
	if err != nil || v != "3.33" {
		t.Fatalf("optimal value cell %q %v", v, err)
	}
	rows, err := f.GetRows(tableSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "period" || rows[2][1] != "3" {
		t.Fatalf("table sheet %v", rows)
	}
}

func TestBundleAndKeys(t *testing.T) {
	files, err := Bundle(sampleResult())
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
		if len(f.Data) == 0 {
			t.Fatalf("%s is empty", f.Name)
		}
	}
	if !reflect.DeepEqual(names, []string{"policy.csv", "thresholds.csv", "table.csv", WorkbookName}) {
		t.Fatalf("names %v", names)
	}
	r := sampleResult()
	if got := Key(RunFolder(r), "policy.csv"); got != "hash-abc/policy.csv" {
		t.Fatalf("key %q", got)
	}
	r.RunID = 7
	if got := Key(RunFolder(r), "policy.csv"); got != "7/policy.csv" {
		t.Fatalf("key %q", got)
	}
}
