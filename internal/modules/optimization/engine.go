package optimization

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/opticut/internal/clients/advisor"
	"github.com/aristath/opticut/internal/config"
	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/workpool"
)

// RunInput is one optimization request, fully resolved from its scenario.
type RunInput struct {
	ScenarioID       string
	CuttingJobID     string
	Parameters       Parameters
	SelectedStockIDs []string

	// Progress receives coarse phase updates; nil disables reporting.
	Progress func(percent int, message string)
}

// Engine orchestrates one run: load job and stock, pick the algorithm,
// pack on the worker pool, and shape the result for persistence. The engine
// never retries; retrying is the caller's decision.
type Engine struct {
	jobs     *services.CuttingJobClient
	stock    *services.StockClient
	pool     *workpool.Pool
	registry *packing.Registry
	ml       *advisor.Client
	cfg      config.EngineConfig
	tracer   trace.Tracer
	log      zerolog.Logger
}

// NewEngine creates an engine. The ML client may be nil; runs then always
// use the deterministic defaults.
func NewEngine(
	jobs *services.CuttingJobClient,
	stock *services.StockClient,
	pool *workpool.Pool,
	registry *packing.Registry,
	ml *advisor.Client,
	cfg config.EngineConfig,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		jobs:     jobs,
		stock:    stock,
		pool:     pool,
		registry: registry,
		ml:       ml,
		cfg:      cfg,
		tracer:   otel.Tracer("opticut/engine"),
		log:      log.With().Str("component", "engine").Logger(),
	}
}

// Run executes one optimization request. All failures come back as a coded
// error inside the result; nothing escapes the operation boundary.
func (e *Engine) Run(ctx context.Context, input RunInput) *RunResult {
	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("scenario.id", input.ScenarioID),
			attribute.String("job.id", input.CuttingJobID),
		))
	defer span.End()

	data, err := e.run(ctx, input, span)
	if err != nil {
		coded := AsError(err)
		span.SetAttributes(attribute.String("error.code", coded.Code))
		e.log.Warn().Str("scenarioId", input.ScenarioID).Str("code", coded.Code).
			Str("message", coded.Message).Msg("Run failed")
		return &RunResult{Success: false, Error: coded}
	}
	return &RunResult{Success: true, PlanData: data}
}

func (e *Engine) run(ctx context.Context, input RunInput, span trace.Span) (*PlanData, error) {
	opts, err := e.resolveOptions(input.Parameters)
	if err != nil {
		return nil, err
	}

	report(input.Progress, 5, "loading cutting job")
	job, err := e.jobs.GetJobWithItems(ctx, input.CuttingJobID)
	if err != nil {
		var call *services.CallError
		if errors.As(err, &call) {
			switch call.Code {
			case CodeJobNotFound, CodeNotFound:
				return nil, NewError(CodeJobNotFound, call.Message)
			default:
				return nil, Errf(CodeUpstream, "cutting job service: %s", call.Message)
			}
		}
		return nil, Errf(CodeUpstream, "cutting job service: %v", err)
	}

	is1D := Is1DJob(job)
	span.SetAttributes(attribute.Bool("job.is1d", is1D))

	report(input.Progress, 15, "loading stock")
	stockType := services.StockTypeSheet
	if is1D {
		stockType = services.StockTypeBar
	}
	stockItems, err := e.stock.GetAvailableStock(ctx, services.StockQuery{
		MaterialTypeID:   job.MaterialTypeID,
		Thickness:        job.Thickness,
		StockType:        stockType,
		SelectedStockIDs: input.SelectedStockIDs,
	})
	if err != nil {
		return nil, Errf(CodeUpstream, "stock service: %v", err)
	}
	if len(stockItems) == 0 {
		return nil, Errf(CodeNoStock, "no %s stock available for material %s thickness %g",
			stockType, job.MaterialTypeID, job.Thickness)
	}

	algorithm, modelVersion, features, err := e.chooseAlgorithm(ctx, input.Parameters.Algorithm, is1D, job, stockItems, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("algorithm", algorithm))

	report(input.Progress, 30, "packing with "+algorithm)
	started := time.Now()
	data, err := e.pack(ctx, algorithm, is1D, job, stockItems, opts)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	report(input.Progress, 85, "finalizing plan")
	data.ModelVersion = modelVersion
	e.enrich(ctx, data, stockItems, features, elapsed)

	span.SetAttributes(
		attribute.Float64("result.waste_pct", data.WastePercentage),
		attribute.Int("result.stock_used", data.StockUsedCount),
		attribute.Int("result.unplaced", data.UnplacedCount),
	)
	report(input.Progress, 100, "done")
	return data, nil
}

// resolveOptions merges scenario parameters over the configured defaults
// and validates ranges.
func (e *Engine) resolveOptions(params Parameters) (packing.Options, error) {
	kerf := e.cfg.Kerf
	if params.Kerf != nil {
		kerf = *params.Kerf
	}
	if kerf < 0 || kerf > 20 {
		return packing.Options{}, Errf(CodeInvalidRange, "kerf %g outside [0, 20]", kerf)
	}
	if params.MinUsableWaste != nil && *params.MinUsableWaste < 0 {
		return packing.Options{}, Errf(CodeInvalidRange, "minUsableWaste must be >= 0")
	}
	allowRotation := e.cfg.AllowRotation
	if params.AllowRotation != nil {
		allowRotation = *params.AllowRotation
	}
	return packing.Options{
		Kerf:          kerf,
		AllowRotation: allowRotation,
	}, nil
}

// chooseAlgorithm applies the explicit parameter, or asks the ML advisory
// through its breaker. Any advisory failure degrades to the family default.
func (e *Engine) chooseAlgorithm(ctx context.Context, requested string, is1D bool, job *services.CuttingJob, stockItems []services.StockItem, opts packing.Options) (string, string, advisor.Features, error) {
	var features advisor.Features
	if is1D {
		features = advisor.Extract1D(Pieces1DFrom(job), Stock1DFrom(stockItems), opts)
	} else {
		features = advisor.Extract2D(Pieces2DFrom(job), Stock2DFrom(stockItems), opts)
	}

	if requested != "" {
		if !packing.Known(requested) {
			return "", "", features, Errf(CodeInvalidAlgorithm, "unknown algorithm %q", requested)
		}
		if is1D != packing.Is1D(requested) {
			return "", "", features, Errf(CodeAlgorithmMismatch, "algorithm %s does not match job geometry", requested)
		}
		return requested, "", features, nil
	}

	if e.ml == nil {
		if is1D {
			return advisor.Fallback1DAlgorithm, advisor.FallbackModelVersion, features, nil
		}
		return advisor.Fallback2DAlgorithm, advisor.FallbackModelVersion, features, nil
	}
	advice := e.ml.SelectAlgorithm(ctx, features)
	return advice.Algorithm, advice.ModelVersion, features, nil
}

// pack runs the chosen strategy on the worker pool, or in-thread when the
// pool is unavailable.
func (e *Engine) pack(ctx context.Context, algorithm string, is1D bool, job *services.CuttingJob, stockItems []services.StockItem, opts packing.Options) (*PlanData, error) {
	var task workpool.Task
	if is1D {
		strategy, err := e.registry.Lookup1D(algorithm)
		if err != nil {
			return nil, Errf(CodeAlgorithmNotFound, "%v", err)
		}
		if opts.MinUsableWaste == 0 {
			opts.MinUsableWaste = e.cfg.MinUsableWaste1D
		}
		pieces, stock := Pieces1DFrom(job), Stock1DFrom(stockItems)
		task = func(taskCtx context.Context) (interface{}, error) {
			result, err := strategy(taskCtx, pieces, stock, opts)
			if err != nil {
				return nil, err
			}
			return PlanDataFrom1D(algorithm, result), nil
		}
	} else {
		strategy, err := e.registry.Lookup2D(algorithm)
		if err != nil {
			return nil, Errf(CodeAlgorithmNotFound, "%v", err)
		}
		if opts.MinUsableWaste == 0 {
			opts.MinUsableWaste = e.cfg.MinUsableWaste2D
		}
		opts.GuillotineOnly = algorithm == packing.Algo2DGuillotine
		pieces, stock := Pieces2DFrom(job), Stock2DFrom(stockItems)
		task = func(taskCtx context.Context) (interface{}, error) {
			result, err := strategy(taskCtx, pieces, stock, opts)
			if err != nil {
				return nil, err
			}
			return PlanDataFrom2D(algorithm, result), nil
		}
	}

	result, err := e.execute(ctx, task)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, NewError(CodeCancelled, "CANCELLED")
		case errors.Is(err, context.DeadlineExceeded):
			return nil, NewError(CodeTimeout, "packing timed out")
		default:
			return nil, Errf(CodeOptimizationFailed, "packing failed: %v", err)
		}
	}
	return result.(*PlanData), nil
}

// execute prefers the worker pool, falling back to the caller's goroutine
// when the pool is closed or rejects the task.
func (e *Engine) execute(ctx context.Context, task workpool.Task) (interface{}, error) {
	if e.pool != nil && e.pool.Ready() {
		handle, err := e.pool.Submit(ctx, task)
		if err == nil {
			return handle.Wait()
		}
		e.log.Warn().Err(err).Msg("Worker pool rejected task, running in-thread")
	} else {
		e.log.Warn().Msg("Worker pool unavailable, running in-thread")
	}

	timeout := e.cfg.TaskTimeout
	if timeout <= 0 {
		timeout = workpool.DefaultTaskTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := task(runCtx)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	return result, err
}

// enrich attaches the price estimate and the advisory predictions to a
// computed plan. Advisory failures leave the fields unset.
func (e *Engine) enrich(ctx context.Context, data *PlanData, stockItems []services.StockItem, features advisor.Features, elapsed time.Duration) {
	prices := make(map[string]decimal.Decimal, len(stockItems))
	for _, item := range stockItems {
		prices[item.ID] = decimal.NewFromFloat(item.UnitPrice)
	}
	cost := decimal.Zero
	for _, layout := range data.Layouts {
		cost = cost.Add(prices[layout.StockItemID])
	}
	if data.StockUsedCount > 0 {
		data.EstimatedCost = &cost
	}

	if e.ml != nil {
		if prediction := e.ml.PredictWaste(ctx, features); prediction != nil {
			data.PredictedWastePct = &prediction.WastePercentage
		}
		if prediction := e.ml.PredictTime(ctx, features); prediction != nil {
			data.EstimatedTimeMillis = &prediction.Millis
		}
	}
	if data.EstimatedTimeMillis == nil {
		millis := elapsed.Milliseconds()
		data.EstimatedTimeMillis = &millis
	}
}

func report(progress func(int, string), percent int, message string) {
	if progress != nil {
		progress(percent, message)
	}
}
