package drive

import (
	"encoding/csv"
	"io"
	"strconv"
)

var forecastHeader = []string{"item", "period", "mean_demand"}

// WriteForecastCSV writes forecasts in long form, one row per item and period.
func WriteForecastCSV(w io.Writer, forecasts []Forecast) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(forecastHeader); err != nil {
		return err
	}
	for _, f := range forecasts {
		for i, d := range f.MeanDemand {
			record := []string{f.Name, strconv.Itoa(i + 1), strconv.FormatFloat(d, 'f', -1, 64)}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
