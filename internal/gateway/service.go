// Package gateway composes the request pipeline: admission, caching, plan
// generation, validation, intent rewriting, execution, and post-processing.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"metricgate/internal/cache"
	"metricgate/internal/catalog"
	"metricgate/internal/domain"
	"metricgate/internal/engine"
	"metricgate/internal/guardrails"
	"metricgate/internal/history"
	"metricgate/internal/postprocess"
	"metricgate/internal/ratelimit"
)

// Pipeline states, in the only order they may occur. Rejected is terminal
// from Admitted and Validating; Failed is terminal from Planning and
// Executing. There is no retry loop — retry policy belongs to the caller.
type state string

const (
	stateAdmitted       state = "admitted"
	stateCacheCheck     state = "cache_check"
	statePlanning       state = "planning"
	stateValidating     state = "validating"
	stateRewriting      state = "rewriting"
	stateExecuting      state = "executing"
	statePostProcessing state = "post_processing"
	stateResponding     state = "responding"
)

// PlanGenerator produces a raw candidate plan from a question.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, question string, cat *catalog.Catalog, limit int) (domain.RawPlan, error)
}

// QueryRunner executes a validated plan against the semantic query engine.
type QueryRunner interface {
	Query(ctx context.Context, plan domain.QueryPlan, predicate string) (*engine.Result, error)
}

// HistoryRecorder persists terminal request states for audit. Optional.
type HistoryRecorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Response is the pipeline's terminal output.
type Response struct {
	Plan        domain.QueryPlan   `json:"plan"`
	Columns     []string           `json:"columns"`
	Rows        [][]string         `json:"rows"`
	RowCount    int                `json:"row_count"`
	Explanation domain.Explanation `json:"explanation"`
	CacheHit    bool               `json:"cache_hit"`
	DurationMs  int64              `json:"duration_ms"`
}

// Service is the request orchestrator. The catalog is shared read-only
// across concurrent requests; cache and limiter serialize internally.
type Service struct {
	catalog *catalog.Catalog
	planner PlanGenerator
	runner  QueryRunner
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	history HistoryRecorder
	limits  guardrails.Limits
	logger  *slog.Logger
}

// New wires the orchestrator. history may be nil to disable audit recording.
func New(
	cat *catalog.Catalog,
	planner PlanGenerator,
	runner QueryRunner,
	resultCache *cache.Cache,
	limiter *ratelimit.Limiter,
	hist HistoryRecorder,
	limits guardrails.Limits,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if limits == (guardrails.Limits{}) {
		limits = guardrails.DefaultLimits
	}
	return &Service{
		catalog: cat,
		planner: planner,
		runner:  runner,
		cache:   resultCache,
		limiter: limiter,
		history: hist,
		limits:  limits,
		logger:  logger,
	}
}

// Catalog returns the shared catalog snapshot.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// askKey is the question-level cache key payload for the natural-language
// entry point, checked before any model call.
type askKey struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
}

// planKey is the content-addressed key of a normalized, post-rewrite plan.
// Two differently worded questions that compile to the same plan share it.
type planKey struct {
	Plan  domain.QueryPlan `json:"plan"`
	Limit int              `json:"limit"`
}

// Ask handles a natural-language question end to end.
func (s *Service) Ask(ctx context.Context, clientID, question string, limit int) (*Response, error) {
	start := time.Now()
	log := s.logger.With("client", clientID, "question", question)

	// Admitted
	if err := s.limiter.Allow(clientID); err != nil {
		log.Warn("request rejected by rate limiter")
		return nil, err
	}

	// CacheCheck — question-level, before the model is consulted.
	log.Debug("state transition", "state", stateCacheCheck)
	qKey := cache.Key(askKey{Question: question, Limit: limit})
	if resp, ok := s.cachedResponse(qKey); ok {
		s.record(ctx, clientID, question, resp, "ok", start, nil)
		return resp, nil
	}

	// Planning
	log.Debug("state transition", "state", statePlanning)
	promptLimit := limit
	if promptLimit < 1 {
		promptLimit = s.limits.Default
	}
	raw, err := s.planner.GeneratePlan(ctx, question, s.catalog, promptLimit)
	if err != nil {
		s.record(ctx, clientID, question, nil, "plan_error", start, err)
		return nil, err
	}
	// The caller's limit always wins over whatever the model chose.
	if limit > 0 {
		raw.Limit = &limit
	}

	resp, err := s.runPlan(ctx, clientID, question, raw, start, log)
	if err != nil {
		return nil, err
	}

	// Responding — store under both the question key and the plan key.
	s.cache.Put(qKey, resp)
	return resp, nil
}

// Query handles an explicit structured plan. Intent rewriting from question
// text does not apply, but a requested coarse time granularity still rolls
// up client-side.
func (s *Service) Query(ctx context.Context, clientID string, raw domain.RawPlan) (*Response, error) {
	start := time.Now()
	log := s.logger.With("client", clientID)

	if err := s.limiter.Allow(clientID); err != nil {
		log.Warn("request rejected by rate limiter")
		return nil, err
	}

	return s.runPlan(ctx, clientID, "", raw, start, log)
}

// runPlan drives a raw plan through Validating → Rewriting → CacheCheck →
// Executing → PostProcessing → Responding.
func (s *Service) runPlan(ctx context.Context, clientID, question string, raw domain.RawPlan, start time.Time, log *slog.Logger) (*Response, error) {
	// Validating
	log.Debug("state transition", "state", stateValidating)
	plan, err := guardrails.ValidatePlan(raw, s.catalog, s.limits)
	if err != nil {
		s.record(ctx, clientID, question, nil, "validation_error", start, err)
		return nil, err
	}

	// Rewriting — both detectors are pure; each may rewrite the plan.
	log.Debug("state transition", "state", stateRewriting)
	plan, _ = guardrails.DetectTimeGranularity(plan, question, s.catalog)
	if question != "" {
		if rewritten, matched := guardrails.DetectTopN(plan, question, s.catalog); matched {
			plan = rewritten
			log.Debug("top-n rewrite applied", "dimension", plan.TopN.Dimension, "metric", plan.TopN.Metric)
		}
	}

	predicate, err := guardrails.CompileFilters(plan.Filters, s.catalog)
	if err != nil {
		s.record(ctx, clientID, question, nil, "validation_error", start, err)
		return nil, err
	}

	// Plan-level cache: identical post-rewrite plans share results.
	pKey := cache.Key(planKey{Plan: plan, Limit: plan.Limit})
	if resp, ok := s.cachedResponse(pKey); ok {
		s.record(ctx, clientID, question, resp, "ok", start, nil)
		return resp, nil
	}

	// Executing
	log.Debug("state transition", "state", stateExecuting)
	result, err := s.runner.Query(ctx, plan, predicate.String())
	if err != nil {
		s.record(ctx, clientID, question, nil, "execution_error", start, err)
		return nil, err
	}

	// PostProcessing
	log.Debug("state transition", "state", statePostProcessing)
	final, dropped, err := postprocess.Apply(result, plan, s.catalog)
	if err != nil {
		wrapped := &domain.ExecutionError{Kind: domain.ExecutionEngineFailure, Detail: err.Error()}
		s.record(ctx, clientID, question, nil, "execution_error", start, wrapped)
		return nil, wrapped
	}

	// Responding
	log.Debug("state transition", "state", stateResponding)
	resp := &Response{
		Plan:        plan,
		Columns:     final.Columns,
		Rows:        final.Rows,
		RowCount:    len(final.Rows),
		Explanation: postprocess.BuildExplanation(plan, predicate.String(), dropped),
		DurationMs:  time.Since(start).Milliseconds(),
	}

	// Only successful executions are cached. Two concurrent identical
	// requests may both reach here; last writer wins the slot.
	s.cache.Put(pKey, resp)
	s.record(ctx, clientID, question, resp, "ok", start, nil)
	return resp, nil
}

// cachedResponse returns a copy of a cached response marked as a hit. Rows
// are shared with the cached entry and treated as immutable.
func (s *Service) cachedResponse(key string) (*Response, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	cached, ok := v.(*Response)
	if !ok {
		// A foreign value under our key is a cache fault; treat as a miss.
		return nil, false
	}
	resp := *cached
	resp.CacheHit = true
	return &resp, true
}

// record persists the terminal state of a request. History failures are
// logged and swallowed — audit must never fail a request.
func (s *Service) record(ctx context.Context, clientID, question string, resp *Response, status string, start time.Time, reqErr error) {
	if s.history == nil {
		return
	}
	e := history.Entry{
		Principal:  clientID,
		Question:   question,
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if resp != nil {
		e.CacheHit = resp.CacheHit
		e.RowCount = resp.RowCount
		if planJSON, err := json.Marshal(resp.Plan); err == nil {
			e.PlanJSON = string(planJSON)
		}
	}
	if reqErr != nil {
		e.Error = reqErr.Error()
	}
	if err := s.history.Record(ctx, e); err != nil {
		s.logger.Warn("history record failed", "error", err)
	}
}
