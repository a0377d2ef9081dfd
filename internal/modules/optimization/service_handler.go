package optimization

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/opticut/internal/services"
)

// RegistryHandler exposes the plan surface over the in-process service
// registry so other modules can consume plans without importing this
// package's internals.
func (s *Service) RegistryHandler() services.Handler {
	return func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		parts := strings.Split(strings.Trim(path, "/"), "/")

		switch {
		case method == "POST" && path == "/plans/approved":
			return s.handleApproved(ctx, data)
		case method == "GET" && len(parts) == 2 && parts[0] == "plans":
			return wrap(s.GetPlan(ctx, parts[1]))
		case method == "GET" && len(parts) == 3 && parts[0] == "plans" && parts[2] == "stock-items":
			return wrap(s.GetPlanStocks(ctx, parts[1]))
		case method == "PUT" && len(parts) == 3 && parts[0] == "plans" && parts[2] == "status":
			return s.handleStatusUpdate(ctx, parts[1], data)
		default:
			return services.Failf("NOT_FOUND", "no route for %s %s", method, path)
		}
	}
}

func (s *Service) handleStatusUpdate(ctx context.Context, planID string, data map[string]interface{}) services.Response {
	status, _ := data["status"].(string)
	if status == "" {
		return services.Fail(CodeValidation, "status is required")
	}
	var approvedByID, machineID *string
	if v, ok := data["approvedById"].(string); ok && v != "" {
		approvedByID = &v
	}
	if v, ok := data["machineId"].(string); ok && v != "" {
		machineID = &v
	}
	correlationID, _ := data["correlationId"].(string)

	return wrap(s.UpdatePlanStatus(ctx, planID, status, approvedByID, machineID, correlationID))
}

func (s *Service) handleApproved(ctx context.Context, data map[string]interface{}) services.Response {
	filter := PlanFilter{}
	if v, ok := data["scenarioId"].(string); ok {
		filter.ScenarioID = v
	}
	if t := parseDateField(data, "fromDate"); t != nil {
		filter.FromDate = t
	}
	if t := parseDateField(data, "toDate"); t != nil {
		filter.ToDate = t
	}
	return wrap(s.GetApprovedPlans(ctx, filter))
}

func parseDateField(data map[string]interface{}, key string) *time.Time {
	raw, _ := data[key].(string)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// wrap converts a (value, error) pair into a registry response with the
// module's error codes intact.
func wrap(value interface{}, err error) services.Response {
	if err != nil {
		coded := AsError(err)
		return services.Fail(coded.Code, coded.Message)
	}
	return services.OK(value)
}
