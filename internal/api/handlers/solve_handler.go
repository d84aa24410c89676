package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SolveService is what the handler needs from service.SolveService.
type SolveService interface {
	Run(ctx context.Context, params domain.Parameters) (*domain.SolveResult, error)
	GetRun(ctx context.Context, id int64) (*domain.SolveRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error)
	GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error)
	GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error)
	Policy(ctx context.Context, id int64, criteria domain.Criteria) (*service.PolicyView, error)
	ExportLink(ctx context.Context, id int64) (string, error)
	KConvexity(ctx context.Context, params domain.Parameters, minInv, maxInv float64) (*service.KConvexityReport, error)
}

type SolveHandler struct {
	service  SolveService
	defaults domain.Parameters
}

// NewSolveHandler serves solve requests; fields a request omits keep the value
// from defaults.
func NewSolveHandler(service SolveService, defaults domain.Parameters) *SolveHandler {
	return &SolveHandler{service: service, defaults: defaults}
}

func (h *SolveHandler) baseParameters() domain.Parameters {
	p := h.defaults
	p.MeanDemand = slices.Clone(h.defaults.MeanDemand)
	return p
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrRunNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPersistenceDisabled), errors.Is(err, service.ErrExportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg(message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func parseRunID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return 0, false
	}
	return id, true
}

func parsePositiveIntWithDefault(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseNonNegativeInt(value string) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return 0
}

// Solve handles POST /solve. The optimal table is left out of the response
// unless include_table=true.
func (h *SolveHandler) Solve(c *gin.Context) {
	params := h.baseParameters()
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	result, err := h.service.Run(c.Request.Context(), params)
	if err != nil {
		respondError(c, err, "failed to solve instance")
		return
	}

	out := *result
	if c.Query("include_table") != "true" {
		out.Table = nil
	}
	c.JSON(http.StatusCreated, out)
}

func (h *SolveHandler) ListRuns(c *gin.Context) {
	limit := parsePositiveIntWithDefault(c.Query("limit"), 20)
	offset := parseNonNegativeInt(c.Query("offset"))

	runs, err := h.service.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err, "failed to fetch runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs, "limit": limit, "offset": offset})
}

func (h *SolveHandler) GetRun(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to fetch run")
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *SolveHandler) GetPolicy(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	var criteria domain.Criteria
	if raw := strings.TrimSpace(c.Query("criteria")); raw != "" {
		parsed, err := domain.ParseCriteria(raw)
		if err != nil {
			respondError(c, err, "invalid criteria")
			return
		}
		criteria = parsed
	}

	view, err := h.service.Policy(c.Request.Context(), id, criteria)
	if err != nil {
		respondError(c, err, "failed to fetch policy")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SolveHandler) GetTable(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	filter := domain.TableFilter{
		Period:   parseNonNegativeInt(c.Query("period")),
		Page:     parsePositiveIntWithDefault(c.Query("page"), 1),
		PageSize: parsePositiveIntWithDefault(c.Query("page_size"), 500),
	}

	items, total, err := h.service.GetTable(c.Request.Context(), id, filter)
	if err != nil {
		respondError(c, err, "failed to fetch table")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (h *SolveHandler) GetThresholds(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	items, err := h.service.GetThresholds(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to fetch thresholds")
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *SolveHandler) GetExport(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}
	url, err := h.service.ExportLink(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to create export link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type kConvexityRequest struct {
	Parameters   *domain.Parameters `json:"parameters"`
	MinInventory float64            `json:"min_inventory"`
	MaxInventory float64            `json:"max_inventory"`
}

// KConvexity handles POST /kconvexity.
func (h *SolveHandler) KConvexity(c *gin.Context) {
	params := h.baseParameters()
	req := kConvexityRequest{Parameters: &params}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	report, err := h.service.KConvexity(c.Request.Context(), params, req.MinInventory, req.MaxInventory)
	if err != nil {
		respondError(c, err, "failed to check k-convexity")
		return
	}
	c.JSON(http.StatusOK, report)
}
