package optimization

import (
	"context"

	"github.com/rs/zerolog"
)

// RequestMessage is the bus payload that triggers a run.
type RequestMessage struct {
	CuttingJobID  string   `json:"cuttingJobId" msgpack:"cuttingJobId"`
	ScenarioID    string   `json:"scenarioId" msgpack:"scenarioId"`
	Algorithm     string   `json:"algorithm,omitempty" msgpack:"algorithm,omitempty"`
	Kerf          *float64 `json:"kerf,omitempty" msgpack:"kerf,omitempty"`
	AllowRotation *bool    `json:"allowRotation,omitempty" msgpack:"allowRotation,omitempty"`
	CorrelationID string   `json:"correlationId" msgpack:"correlationId"`
}

// Consumer accepts optimization requests from the message bus. Handle
// returns nil only once the scenario's final status is persisted, so the
// bus acknowledges exactly the messages whose outcome is durable.
type Consumer struct {
	service   *Service
	scenarios *ScenarioRepository
	log       zerolog.Logger
}

// NewConsumer creates a consumer bound to the service.
func NewConsumer(service *Service, scenarios *ScenarioRepository, log zerolog.Logger) *Consumer {
	return &Consumer{
		service:   service,
		scenarios: scenarios,
		log:       log.With().Str("component", "optimization_consumer").Logger(),
	}
}

// Handle processes one request. Duplicates (scenario already RUNNING or
// COMPLETED) are dropped idempotently and acknowledged.
func (c *Consumer) Handle(ctx context.Context, msg RequestMessage) error {
	if msg.ScenarioID == "" {
		c.log.Warn().Msg("Dropping request without scenarioId")
		return nil
	}

	scenario, err := c.scenarios.FindByID(ctx, msg.ScenarioID)
	if err != nil {
		if HasCode(err, CodeScenarioNotFound) {
			c.log.Warn().Str("scenarioId", msg.ScenarioID).Msg("Dropping request for unknown scenario")
			return nil
		}
		return err
	}

	switch scenario.Status {
	case ScenarioRunning, ScenarioCompleted:
		c.log.Debug().Str("scenarioId", msg.ScenarioID).Str("status", scenario.Status).
			Msg("Duplicate request dropped")
		return nil
	case ScenarioFailed:
		if err := c.service.RetryScenario(ctx, msg.ScenarioID); err != nil {
			return err
		}
	}

	if err := c.applyOverrides(ctx, scenario, msg); err != nil {
		return err
	}

	result := c.service.Run(ctx, msg.ScenarioID, msg.CorrelationID)
	if !result.Success {
		// The scenario is persisted as FAILED; the message is consumed.
		c.log.Warn().Str("scenarioId", msg.ScenarioID).Str("code", result.Error.Code).
			Msg("Run failed")
	}
	return nil
}

// applyOverrides folds message-level parameters into the scenario while it
// is still PENDING.
func (c *Consumer) applyOverrides(ctx context.Context, scenario *Scenario, msg RequestMessage) error {
	if msg.Algorithm == "" && msg.Kerf == nil && msg.AllowRotation == nil {
		return nil
	}
	params := scenario.Parameters
	if msg.Algorithm != "" {
		params.Algorithm = msg.Algorithm
	}
	if msg.Kerf != nil {
		params.Kerf = msg.Kerf
	}
	if msg.AllowRotation != nil {
		params.AllowRotation = msg.AllowRotation
	}
	return c.scenarios.UpdateParameters(ctx, scenario.ID, params)
}
