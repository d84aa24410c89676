package drive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
)

// Runner solves one problem instance.
type Runner interface {
	Run(ctx context.Context, params domain.Parameters) (*domain.SolveResult, error)
}

// IntakeResult is the outcome of solving one forecast series.
type IntakeResult struct {
	Forecast     string  `json:"forecast"`
	RunID        int64   `json:"run_id,omitempty"`
	OptimalValue float64 `json:"optimal_value"`
	FirstAction  float64 `json:"first_action"`
	Mismatches   int     `json:"mismatches"`
	Error        string  `json:"error,omitempty"`
}

// IntakeService turns forecast sheets stored in Drive into solve runs.
type IntakeService struct {
	source Source
	runner Runner
	base   domain.Parameters
	log    zerolog.Logger
}

// NewIntakeService solves every forecast with base, replacing only its mean
// demand.
func NewIntakeService(source Source, runner Runner, base domain.Parameters) *IntakeService {
	return &IntakeService{
		source: source,
		runner: runner,
		base:   base,
		log:    logger.Component("drive_intake"),
	}
}

// Forecasts downloads fileID and parses its demand series.
func (s *IntakeService) Forecasts(ctx context.Context, fileID string) ([]Forecast, error) {
	meta, err := s.source.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.source.DownloadFile(ctx, fileID, &buf); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", meta.Name, err)
	}
	return ParseForecast(meta.Name, &buf)
}

// SolveFile solves each series of fileID in order. A failing series is
// reported in its result and does not stop the others.
func (s *IntakeService) SolveFile(ctx context.Context, fileID string) ([]IntakeResult, error) {
	forecasts, err := s.Forecasts(ctx, fileID)
	if err != nil {
		return nil, err
	}

	results := make([]IntakeResult, 0, len(forecasts))
	for _, fc := range forecasts {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		params := s.base
		params.MeanDemand = append([]float64(nil), fc.MeanDemand...)

		res := IntakeResult{Forecast: fc.Name}
		out, err := s.runner.Run(ctx, params)
		if err != nil {
			s.log.Error().Err(err).Str("file_id", fileID).Str("forecast", fc.Name).Msg("forecast solve failed")
			res.Error = err.Error()
		} else {
			res.RunID = out.RunID
			res.OptimalValue = out.OptimalValue
			res.FirstAction = out.FirstAction
			res.Mismatches = out.Mismatches
		}
		results = append(results, res)
	}

	s.log.Info().Str("file_id", fileID).Int("forecasts", len(results)).Msg("drive forecast intake finished")
	return results, nil
}
