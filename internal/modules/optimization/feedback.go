package optimization

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/clients/advisor"
	"github.com/aristath/opticut/internal/events"
)

// FeedbackHandler closes the loop between predicted and actual outcomes:
// when production finishes, the actual waste and duration are forwarded to
// the advisory service for model training. It only forwards; training data
// persistence lives upstream.
type FeedbackHandler struct {
	plans *PlanRepository
	ml    *advisor.Client
	log   zerolog.Logger
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(plans *PlanRepository, ml *advisor.Client, log zerolog.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		plans: plans,
		ml:    ml,
		log:   log.With().Str("component", "feedback").Logger(),
	}
}

// Bind subscribes the handler to production.completed events.
func (h *FeedbackHandler) Bind(bus *events.Bus) {
	bus.Subscribe(events.ProductionCompleted, h.handle)
}

func (h *FeedbackHandler) handle(event *events.Event) {
	planID, _ := event.Data["planId"].(string)
	if planID == "" {
		h.log.Warn().Msg("production.completed without planId")
		return
	}
	actualWaste := floatField(event.Data, "actualWaste")
	actualSeconds := floatField(event.Data, "actualTimeSeconds")

	plan, err := h.plans.FindByID(context.Background(), planID)
	if err != nil {
		h.log.Warn().Err(err).Str("planId", planID).Msg("Cannot resolve plan for feedback")
		return
	}

	outcome := advisor.Outcome{
		ScenarioID:      plan.ScenarioID,
		WastePercentage: actualWaste,
		DurationMillis:  int64(actualSeconds * 1000),
	}
	approved := plan.ApprovedAt != nil
	outcome.PlanApproved = &approved

	logEvent := h.log.Debug().Str("planId", planID).Float64("actualWaste", actualWaste)
	if plan.PredictedWastePct != nil {
		predicted := *plan.PredictedWastePct
		errAbs := math.Abs(actualWaste - predicted)
		outcome.PredictedWastePct = &predicted
		outcome.WasteErrorAbs = &errAbs
		if actualWaste > 0 {
			errRel := errAbs / actualWaste * 100
			outcome.WasteErrorRelPct = &errRel
		}
		logEvent = logEvent.Float64("predictedWaste", predicted).Float64("wasteErrorAbs", errAbs)
	}

	if h.ml != nil {
		h.ml.RecordOutcome(outcome)
	}
	logEvent.Msg("Outcome forwarded")
}

func floatField(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
