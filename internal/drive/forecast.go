package drive

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Forecast is one demand series read from a forecast sheet: the mean demand of
// each period, in period order.
type Forecast struct {
	Name       string    `json:"name"`
	MeanDemand []float64 `json:"mean_demand"`
}

var (
	meanColumns = []string{"mean_demand", "mean", "demand"}
	itemColumns = []string{"item", "sku", "name"}
)

// ParseForecast reads a CSV or XLSX forecast, picking the format from the file
// extension. The base file name labels the series when the sheet has no item
// column.
func ParseForecast(fileName string, r io.Reader) ([]Forecast, error) {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return ParseForecastCSV(r, base)
	case ".xlsx":
		return ParseForecastXLSX(r, base)
	default:
		return nil, fmt.Errorf("unsupported forecast file %q: want .csv or .xlsx", fileName)
	}
}

// LoadForecastFile parses a forecast file from disk.
func LoadForecastFile(path string) ([]Forecast, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open forecast %s: %w", path, err)
	}
	defer f.Close()
	return ParseForecast(path, f)
}

func ParseForecastCSV(r io.Reader, defaultName string) ([]Forecast, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read forecast csv: %w", err)
	}
	return parseForecastRows(rows, defaultName)
}

// ParseForecastXLSX reads the first sheet of a workbook.
func ParseForecastXLSX(r io.Reader, defaultName string) ([]Forecast, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open forecast xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("forecast workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheets[0], err)
	}
	return parseForecastRows(rows, defaultName)
}

func parseForecastRows(rows [][]string, defaultName string) ([]Forecast, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("forecast is empty")
	}

	colMap := make(map[string]int)
	for i, col := range rows[0] {
		colMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	meanIdx, ok := firstColumn(colMap, meanColumns)
	if !ok {
		return nil, fmt.Errorf("missing required column: one of %v", meanColumns)
	}
	itemIdx, hasItem := firstColumn(colMap, itemColumns)
	periodIdx, hasPeriod := colMap["period"]

	type point struct {
		period int
		mean   float64
	}
	series := make(map[string][]point)
	var order []string

	for n, record := range rows[1:] {
		line := n + 2
		cell := func(idx int) string {
			if idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
			return ""
		}
		if isBlank(record) {
			continue
		}

		name := defaultName
		if hasItem {
			if name = cell(itemIdx); name == "" {
				return nil, fmt.Errorf("line %d: empty item", line)
			}
		}
		mean, err := strconv.ParseFloat(cell(meanIdx), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad mean demand %q: %w", line, cell(meanIdx), err)
		}
		if mean < 0 {
			return nil, fmt.Errorf("line %d: mean demand must not be negative, got %v", line, mean)
		}
		period := len(series[name]) + 1
		if hasPeriod {
			if period, err = strconv.Atoi(cell(periodIdx)); err != nil {
				return nil, fmt.Errorf("line %d: bad period %q: %w", line, cell(periodIdx), err)
			}
		}

		if _, seen := series[name]; !seen {
			order = append(order, name)
		}
		series[name] = append(series[name], point{period: period, mean: mean})
	}

	if len(order) == 0 {
		return nil, fmt.Errorf("forecast has no data rows")
	}

	out := make([]Forecast, 0, len(order))
	for _, name := range order {
		pts := series[name]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].period < pts[j].period })
		means := make([]float64, len(pts))
		for i, pt := range pts {
			if pt.period != i+1 {
				return nil, fmt.Errorf("forecast %s: periods must run 1..%d without gaps or repeats", name, len(pts))
			}
			means[i] = pt.mean
		}
		out = append(out, Forecast{Name: name, MeanDemand: means})
	}
	return out, nil
}

func firstColumn(colMap map[string]int, names []string) (int, bool) {
	for _, n := range names {
		if idx, ok := colMap[n]; ok {
			return idx, true
		}
	}
	return 0, false
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
