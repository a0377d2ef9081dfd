package optimization

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/events"
)

// Service drives the scenario → plan lifecycle. It owns all status writes:
// callers create scenarios and ask for runs; only the service moves a
// scenario through RUNNING and only the service creates plans.
type Service struct {
	scenarios *ScenarioRepository
	plans     *PlanRepository
	engine    *Engine
	bus       *events.Bus
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewService creates the optimization service.
func NewService(scenarios *ScenarioRepository, plans *PlanRepository, engine *Engine, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		scenarios: scenarios,
		plans:     plans,
		engine:    engine,
		bus:       bus,
		log:       log.With().Str("service", "optimization").Logger(),
		active:    make(map[string]context.CancelFunc),
	}
}

// CreateScenario validates and persists a new scenario in PENDING status.
func (s *Service) CreateScenario(ctx context.Context, scenario *Scenario) (*Scenario, error) {
	if scenario.CuttingJobID == "" {
		return nil, NewError(CodeValidation, "cuttingJobId is required")
	}
	if scenario.Name == "" {
		return nil, NewError(CodeValidation, "name is required")
	}
	if k := scenario.Parameters.Kerf; k != nil && (*k < 0 || *k > 20) {
		return nil, Errf(CodeInvalidRange, "kerf %g outside [0, 20]", *k)
	}
	if err := s.scenarios.Create(ctx, scenario); err != nil {
		return nil, err
	}
	return scenario, nil
}

// GetScenario loads one scenario.
func (s *Service) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	return s.scenarios.FindByID(ctx, id)
}

// ListScenarios lists scenarios matching the filter.
func (s *Service) ListScenarios(ctx context.Context, filter ScenarioFilter) ([]Scenario, error) {
	return s.scenarios.FindAll(ctx, filter)
}

// RetryScenario re-arms a FAILED scenario. The next completed run creates a
// fresh plan with a new plan number; earlier plans are kept.
func (s *Service) RetryScenario(ctx context.Context, id string) error {
	return s.scenarios.UpdateStatus(ctx, id, ScenarioFailed, ScenarioPending, nil)
}

// Run executes a scenario end to end: PENDING → RUNNING → COMPLETED with a
// DRAFT plan, or FAILED with the error recorded. The returned result always
// reflects the final scenario state.
func (s *Service) Run(ctx context.Context, scenarioID, correlationID string) *RunResult {
	scenario, err := s.scenarios.FindByID(ctx, scenarioID)
	if err != nil {
		return &RunResult{Success: false, Error: AsError(err)}
	}

	if err := s.scenarios.UpdateStatus(ctx, scenarioID, ScenarioPending, ScenarioRunning, nil); err != nil {
		return &RunResult{Success: false, Error: AsError(err)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.trackRun(scenarioID, cancel)
	defer s.untrackRun(scenarioID)
	defer cancel()

	s.bus.Publish(events.OptimizationStarted, correlationID, map[string]interface{}{
		"scenarioId":   scenarioID,
		"cuttingJobId": scenario.CuttingJobID,
	})

	result := s.engine.Run(runCtx, RunInput{
		ScenarioID:       scenarioID,
		CuttingJobID:     scenario.CuttingJobID,
		Parameters:       scenario.Parameters,
		SelectedStockIDs: scenario.SelectedStockIDs,
		Progress: func(percent int, message string) {
			s.bus.Publish(events.OptimizationProgress, correlationID, map[string]interface{}{
				"scenarioId": scenarioID,
				"percent":    percent,
				"message":    message,
			})
		},
	})

	if !result.Success {
		s.failScenario(ctx, scenarioID, correlationID, result.Error)
		return result
	}

	plan, err := s.plans.Create(ctx, scenarioID, result.PlanData)
	if err != nil {
		coded := AsError(err)
		s.failScenario(ctx, scenarioID, correlationID, coded)
		return &RunResult{Success: false, Error: coded}
	}

	if err := s.scenarios.UpdateStatus(ctx, scenarioID, ScenarioRunning, ScenarioCompleted, nil); err != nil {
		// The plan exists but the status write lost a race; surface the error.
		return &RunResult{Success: false, Error: AsError(err)}
	}

	s.bus.Publish(events.OptimizationCompleted, correlationID, map[string]interface{}{
		"scenarioId":      scenarioID,
		"planId":          plan.ID,
		"planNumber":      plan.PlanNumber,
		"totalWaste":      plan.TotalWaste,
		"wastePercentage": plan.WastePercentage,
		"stockUsedCount":  plan.StockUsedCount,
	})
	return result
}

// CancelRun cancels an in-flight run. The run ends as FAILED with the
// cancellation recorded; no plan is persisted.
func (s *Service) CancelRun(scenarioID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[scenarioID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Service) failScenario(ctx context.Context, scenarioID, correlationID string, coded *Error) {
	message := coded.Message
	if coded.Code == CodeCancelled {
		message = "CANCELLED"
	}
	// The terminal write must land even when the run was cancelled; keep
	// the tenant but drop the caller's cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := s.scenarios.UpdateStatus(ctx, scenarioID, ScenarioRunning, ScenarioFailed, &message); err != nil {
		s.log.Error().Err(err).Str("scenarioId", scenarioID).Msg("Failed to mark scenario FAILED")
	}
	s.bus.Publish(events.OptimizationFailed, correlationID, map[string]interface{}{
		"scenarioId": scenarioID,
		"error":      coded.Code,
		"message":    coded.Message,
	})
}

func (s *Service) trackRun(scenarioID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.active[scenarioID] = cancel
	s.mu.Unlock()
}

func (s *Service) untrackRun(scenarioID string) {
	s.mu.Lock()
	delete(s.active, scenarioID)
	s.mu.Unlock()
}

// GetPlan loads one plan.
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return s.plans.FindByID(ctx, id)
}

// ListPlans lists plans matching the filter.
func (s *Service) ListPlans(ctx context.Context, filter PlanFilter) ([]Plan, error) {
	return s.plans.FindAll(ctx, filter)
}

// GetPlanStocks loads a plan's layouts in cutting sequence.
func (s *Service) GetPlanStocks(ctx context.Context, planID string) ([]PlanStock, error) {
	return s.plans.GetStockItems(ctx, planID)
}

// UpdatePlanStatus transitions a plan and publishes the change.
func (s *Service) UpdatePlanStatus(ctx context.Context, planID, next string, approvedByID, machineID *string, correlationID string) (*Plan, error) {
	before, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.UpdateStatus(ctx, planID, next, approvedByID, machineID)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.PlanStatusUpdated, correlationID, map[string]interface{}{
		"planId":    planID,
		"oldStatus": before.Status,
		"newStatus": plan.Status,
	})
	return plan, nil
}

// GetApprovedPlans lists APPROVED plans matching the filter.
func (s *Service) GetApprovedPlans(ctx context.Context, filter PlanFilter) ([]Plan, error) {
	filter.Status = PlanApproved
	return s.plans.FindAll(ctx, filter)
}
