// Package handlers provides HTTP handlers for scenarios and plans.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/modules/optimization"
)

// Handler handles optimization HTTP requests.
type Handler struct {
	service *optimization.Service
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler.
func NewHandler(service *optimization.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// HandleCreateScenario creates a scenario in PENDING status.
func (h *Handler) HandleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var scenario optimization.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		h.writeError(w, http.StatusBadRequest, optimization.CodeValidation, "invalid request body")
		return
	}

	created, err := h.service.CreateScenario(r.Context(), &scenario)
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// HandleListScenarios lists scenarios, optionally filtered by job or status.
func (h *Handler) HandleListScenarios(w http.ResponseWriter, r *http.Request) {
	filter := optimization.ScenarioFilter{
		CuttingJobID: r.URL.Query().Get("cuttingJobId"),
		Status:       r.URL.Query().Get("status"),
	}
	scenarios, err := h.service.ListScenarios(r.Context(), filter)
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scenarios)
}

// HandleGetScenario returns one scenario.
func (h *Handler) HandleGetScenario(w http.ResponseWriter, r *http.Request) {
	scenario, err := h.service.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scenario)
}

// HandleRunScenario starts a run and returns immediately. The caller
// follows progress over the event stream.
func (h *Handler) HandleRunScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	correlationID := r.Header.Get("X-Correlation-Id")

	// The run outlives the request; keep the tenant but drop the
	// request's cancellation.
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		result := h.service.Run(runCtx, id, correlationID)
		if !result.Success {
			h.log.Warn().Str("scenarioId", id).Str("code", result.Error.Code).Msg("Scenario run failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"scenarioId": id,
		"status":     optimization.ScenarioRunning,
	})
}

// HandleCancelRun cancels an in-flight run.
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.service.CancelRun(id) {
		h.writeError(w, http.StatusNotFound, optimization.CodeNotFound, "no active run for scenario "+id)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"scenarioId": id, "cancelled": true})
}

// HandleRetryScenario re-arms a FAILED scenario.
func (h *Handler) HandleRetryScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.RetryScenario(r.Context(), id); err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"scenarioId": id, "status": optimization.ScenarioPending})
}

// HandleListPlans lists plans, optionally filtered.
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	filter := optimization.PlanFilter{
		ScenarioID: r.URL.Query().Get("scenarioId"),
		Status:     r.URL.Query().Get("status"),
	}
	plans, err := h.service.ListPlans(r.Context(), filter)
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plans)
}

// HandleGetPlan returns one plan.
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// HandleGetPlanStocks returns a plan's layouts in cutting sequence.
func (h *Handler) HandleGetPlanStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.service.GetPlanStocks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stocks)
}

// HandleUpdatePlanStatus transitions a plan along its lifecycle.
func (h *Handler) HandleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status       string  `json:"status"`
		ApprovedByID *string `json:"approvedById"`
		MachineID    *string `json:"machineId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, optimization.CodeValidation, "invalid request body")
		return
	}

	plan, err := h.service.UpdatePlanStatus(r.Context(), chi.URLParam(r, "id"),
		body.Status, body.ApprovedByID, body.MachineID, r.Header.Get("X-Correlation-Id"))
	if err != nil {
		h.writeCoded(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, plan)
}

// writeCoded maps a module error code onto the HTTP status space.
func (h *Handler) writeCoded(w http.ResponseWriter, err error) {
	coded := optimization.AsError(err)
	status := http.StatusInternalServerError
	switch coded.Code {
	case optimization.CodeValidation, optimization.CodeInvalidAlgorithm,
		optimization.CodeAlgorithmMismatch, optimization.CodeInvalidRange:
		status = http.StatusBadRequest
	case optimization.CodeNotFound, optimization.CodeScenarioNotFound,
		optimization.CodePlanNotFound, optimization.CodeJobNotFound:
		status = http.StatusNotFound
	case optimization.CodeInvalidTransition, optimization.CodeInvalidStatus,
		optimization.CodeConflict:
		status = http.StatusConflict
	case optimization.CodeUpstream:
		status = http.StatusBadGateway
	}
	h.writeError(w, status, coded.Code, coded.Message)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
