package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/cache"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/export"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
	"github.com/andresuchdata/cashflow-sdp/internal/storage"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
)

var (
	// ErrPersistenceDisabled is returned by run lookups when no repository is
	// configured.
	ErrPersistenceDisabled = errors.New("run persistence is not configured")
	// ErrExportUnavailable is returned when no object storage is configured.
	ErrExportUnavailable = errors.New("export storage is not configured")
)

const exportLinkTTL = 15 * time.Minute

// SolveService runs instances end to end and serves persisted runs. The
// repository and storage are optional.
type SolveService struct {
	repo     repository.RunRepository
	results  cache.ResultCache
	policies cache.PolicyCache
	store    storage.ObjectStorage
	sim      simulation.Config
	log      zerolog.Logger
}

func NewSolveService(repo repository.RunRepository, results cache.ResultCache, policies cache.PolicyCache, store storage.ObjectStorage, sim simulation.Config) *SolveService {
	if results == nil {
		results = cache.NewNoopResultCache()
	}
	if policies == nil {
		policies = cache.NewNoopPolicyCache()
	}
	return &SolveService{
		repo:     repo,
		results:  results,
		policies: policies,
		store:    store,
		sim:      sim,
		log:      logger.Component("solve_service"),
	}
}

// Run validates params and returns the solved instance. Identical instances
// are answered from the result cache.
func (s *SolveService) Run(ctx context.Context, params domain.Parameters) (*domain.SolveResult, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	hash := params.Hash()

	if cached, ok, err := s.results.GetResult(ctx, hash); err == nil && ok {
		s.log.Debug().Str("params_hash", hash).Msg("solve: result cache hit")
		return cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("solve: cache get result failed")
	}

	var runID int64
	if s.repo != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		run := &domain.SolveRun{ParamsHash: hash, Parameters: payload, Status: domain.RunSolving}
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		runID = run.ID
	}

	ev, err := Evaluate(ctx, params, s.sim, s.log)
	if err != nil {
		s.fail(runID, err)
		return nil, err
	}
	result := ev.Result
	result.RunID = runID

	if s.repo != nil {
		if err := s.repo.CompleteRun(ctx, runID, result); err != nil {
			s.fail(runID, err)
			return nil, fmt.Errorf("failed to save run %d: %w", runID, err)
		}
	}

	s.upload(ctx, result)

	if err := s.results.SetResult(ctx, result); err != nil {
		s.log.Warn().Err(err).Msg("solve: cache set result failed")
	}
	return result, nil
}

// fail marks the run failed on a fresh context, since ctx may be the reason.
func (s *SolveService) fail(runID int64, cause error) {
	if s.repo == nil || runID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.MarkRunFailed(ctx, runID, cause.Error()); err != nil {
		s.log.Error().Err(err).Int64("run_id", runID).Msg("could not mark run failed")
	}
}

func (s *SolveService) upload(ctx context.Context, result *domain.SolveResult) {
	if s.store == nil {
		return
	}
	files, err := export.Bundle(result)
	if err != nil {
		s.log.Warn().Err(err).Msg("solve: render exports failed")
		return
	}
	folder := export.RunFolder(result)
	for _, f := range files {
		if err := s.store.UploadObject(ctx, export.Key(folder, f.Name), f.Data); err != nil {
			s.log.Warn().Err(err).Str("file", f.Name).Msg("solve: export upload failed")
			return
		}
	}
	s.log.Debug().Str("folder", folder).Int("files", len(files)).Msg("solve: exports uploaded")
}

func (s *SolveService) GetRun(ctx context.Context, id int64) (*domain.SolveRun, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.GetRun(ctx, id)
}

func (s *SolveService) ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.ListRuns(ctx, limit, offset)
}

func (s *SolveService) GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error) {
	if s.repo == nil {
		return nil, 0, ErrPersistenceDisabled
	}
	if _, err := s.repo.GetRun(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.repo.GetTable(ctx, id, filter)
}

func (s *SolveService) GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	if _, err := s.repo.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetThresholds(ctx, id)
}

// PolicyView is the policy of a run under one criteria.
type PolicyView struct {
	RunID      int64                       `json:"run_id"`
	Criteria   domain.Criteria             `json:"criteria"`
	Rows       []domain.ThresholdPolicyRow `json:"rows"`
	Thresholds []domain.CashThreshold      `json:"thresholds"`
	Mismatches int                         `json:"mismatches"`
}

// Policy returns the stored policy of run id, or re-extracts it from the
// stored table when criteria differs from the one the run was solved with.
// Re-extractions are cached per run and criteria.
func (s *SolveService) Policy(ctx context.Context, id int64, criteria domain.Criteria) (*PolicyView, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	var params domain.Parameters
	if err := json.Unmarshal(run.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode parameters of run %d: %w", id, err)
	}
	if criteria == "" {
		criteria = params.Criteria
	}

	if criteria == params.Criteria {
		rows, err := s.repo.GetPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		thresholds, err := s.repo.GetThresholds(ctx, id)
		if err != nil {
			return nil, err
		}
		return &PolicyView{RunID: id, Criteria: criteria, Rows: rows, Thresholds: thresholds, Mismatches: run.Mismatches}, nil
	}

	if entry, ok, err := s.policies.GetPolicy(ctx, id, criteria); err == nil && ok {
		return &PolicyView{RunID: id, Criteria: criteria, Rows: entry.Rows, Thresholds: entry.Thresholds, Mismatches: entry.Mismatches}, nil
	} else if err != nil {
		s.log.Warn().Err(err).Msg("policy: cache get failed")
	}

	table, _, err := s.repo.GetTable(ctx, id, domain.TableFilter{})
	if err != nil {
		return nil, err
	}
	ex, report := Reextract(params.WithDefaults(), table, criteria, s.log)
	entry := &cache.PolicyEntry{Rows: ex.Rows, Thresholds: ex.Cache.Entries(), Mismatches: report.Mismatches}
	if err := s.policies.SetPolicy(ctx, id, criteria, entry); err != nil {
		s.log.Warn().Err(err).Msg("policy: cache set failed")
	}
	return &PolicyView{RunID: id, Criteria: criteria, Rows: entry.Rows, Thresholds: entry.Thresholds, Mismatches: entry.Mismatches}, nil
}

// ExportLink returns a download link for the workbook of run id.
func (s *SolveService) ExportLink(ctx context.Context, id int64) (string, error) {
	if s.store == nil {
		return "", ErrExportUnavailable
	}
	if s.repo != nil {
		if _, err := s.repo.GetRun(ctx, id); err != nil {
			return "", err
		}
	}
	return s.store.PresignURL(ctx, export.Key(strconv.FormatInt(id, 10), export.WorkbookName), exportLinkTTL)
}
