package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"regimetrader/internal/domain"
	"regimetrader/internal/experiment"
	"regimetrader/internal/features"
	"regimetrader/internal/montecarlo"
	"regimetrader/internal/optimize"
	"regimetrader/internal/regime"
	"regimetrader/internal/store"
)

// Runner executes experiments on behalf of the service.
type Runner interface {
	Run(ctx context.Context, req experiment.Request) (*experiment.Outcome, error)
	LatestSignal(ctx context.Context, req experiment.Request) (*experiment.Latest, error)
}

// Compile-time interface check.
var _ SimulatorServer = (*Service)(nil)

// Service implements SimulatorServer. Simulate requests start from a base
// request and override individual fields.
type Service struct {
	runner Runner
	runs   store.RunStore
	base   experiment.Request
	logger *slog.Logger
}

// NewService creates a Service. runs may be nil, in which case the lookup
// methods return Unavailable.
func NewService(runner Runner, runs store.RunStore, base experiment.Request, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, runs: runs, base: base, logger: logger}
}

// Simulate accepts the optional keys symbol, runs, seeded, workers,
// max_attempts, n_states, include_shorting, split_date (YYYY-MM-DD),
// embargo, commission, slippage and min_hold_days.
func (s *Service) Simulate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.request(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Info("simulate", "symbol", req.Symbol, "runs", req.MonteCarlo.Runs, "n_states", req.Model.NStates)

	out, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(experimentMap(out.Experiment))
}

// GetExperiment returns the experiment named by "id".
func (s *Service) GetExperiment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unavailable, "run store not configured")
	}
	id := stringField(in, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	e, err := s.runs.GetExperiment(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(experimentMap(e))
}

// ListExperiments returns {"experiments": [...]}, newest first. "limit"
// defaults to 20.
func (s *Service) ListExperiments(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unavailable, "run store not configured")
	}
	limit := 20
	if v, ok := numberField(in, "limit"); ok && v > 0 {
		limit = int(v)
	}
	list, err := s.runs.ListExperiments(ctx, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]any, len(list))
	for i := range list {
		items[i] = experimentMap(&list[i])
	}
	return newStruct(map[string]any{"experiments": items})
}

// ListRuns returns {"runs": [...]} for "experiment_id", ordered by seed.
func (s *Service) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unavailable, "run store not configured")
	}
	id := stringField(in, "experiment_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "experiment_id is required")
	}
	runs, err := s.runs.ListRuns(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]any, len(runs))
	for i, r := range runs {
		m := r.Metrics.Map()
		m["seed"] = r.Seed
		items[i] = m
	}
	return newStruct(map[string]any{"runs": items})
}

// LatestSignal accepts an optional "symbol" and "seed".
func (s *Service) LatestSignal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.request(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if v, ok := numberField(in, "seed"); ok {
		req.Seed = int64(v)
	}
	l, err := s.runner.LatestSignal(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"timestamp":   l.Timestamp.Format(time.DateOnly),
		"state":       l.State,
		"mean_return": l.MeanReturn,
		"signal":      int(l.Signal),
		"action":      l.Action(),
		"converged":   l.Converged,
	})
}

// request applies the overrides in in to the base request.
func (s *Service) request(in *structpb.Struct) (experiment.Request, error) {
	req := s.base
	if v := stringField(in, "symbol"); v != "" {
		req.Symbol = v
		req.CSVPath = ""
	}
	if v := stringField(in, "split_date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return req, fmt.Errorf("split_date: %w", err)
		}
		req.SplitDate = t
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"runs", &req.MonteCarlo.Runs},
		{"workers", &req.MonteCarlo.Workers},
		{"max_attempts", &req.MonteCarlo.MaxAttempts},
		{"n_states", &req.Model.NStates},
		{"embargo", &req.Embargo},
		{"min_hold_days", &req.Backtest.MinHoldDays},
	}
	for _, f := range ints {
		if v, ok := numberField(in, f.key); ok {
			if v < 0 {
				return req, fmt.Errorf("%s must be non-negative", f.key)
			}
			*f.dst = int(v)
		}
	}
	if v, ok := numberField(in, "commission"); ok {
		req.Backtest.Commission = v
	}
	if v, ok := numberField(in, "slippage"); ok {
		req.Backtest.Slippage = v
	}
	if v, ok := boolField(in, "seeded"); ok {
		req.MonteCarlo.Seeded = v
	}
	if v, ok := boolField(in, "include_shorting"); ok {
		req.IncludeShorting = v
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Conversion helpers
// ---------------------------------------------------------------------------

func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(in *structpb.Struct, key string) (float64, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return v.GetNumberValue(), true
}

func boolField(in *structpb.Struct, key string) (bool, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return false, false
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return false, false
	}
	return v.GetBoolValue(), true
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func experimentMap(e *domain.Experiment) map[string]any {
	summary := make(map[string]any)
	for k, v := range e.Summary.Map() {
		summary[k] = v
	}
	return map[string]any{
		"id":         e.ID,
		"symbol":     e.Symbol,
		"created_at": e.CreatedAt.Format(time.RFC3339),
		"n_states":   e.NStates,
		"runs":       e.Runs,
		"seeded":     e.Seeded,
		"attempts":   e.Attempts,
		"rejected":   e.Rejected,
		"test_start": e.TestStart.Format(time.DateOnly),
		"test_end":   e.TestEnd.Format(time.DateOnly),
		"benchmark":  e.Benchmark.Map(),
		"summary":    summary,
		"prob_outperformance": map[string]any{
			"1x": e.ProbOutperform1,
			"2x": e.ProbOutperform2,
			"3x": e.ProbOutperform3,
		},
	}
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, store.ErrNotFound), errors.Is(err, experiment.ErrNoData):
		code = codes.NotFound
	case errors.Is(err, experiment.ErrUnknownStrategy),
		errors.Is(err, features.ErrEmptySplit),
		errors.Is(err, features.ErrTooFewBars),
		errors.Is(err, regime.ErrShape),
		errors.Is(err, optimize.ErrEmptyRange):
		code = codes.InvalidArgument
	case errors.Is(err, montecarlo.ErrAttemptBudgetExhausted):
		code = codes.ResourceExhausted
	case errors.Is(err, montecarlo.ErrNoSuccessfulRuns):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
