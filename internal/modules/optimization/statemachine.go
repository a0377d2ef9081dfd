package optimization

import (
	"sort"
	"strings"
)

// scenarioTransitions and planTransitions define the only legal status
// moves. FAILED → PENDING re-arms a scenario for retry.
var scenarioTransitions = map[string][]string{
	ScenarioPending:   {ScenarioRunning},
	ScenarioRunning:   {ScenarioCompleted, ScenarioFailed},
	ScenarioFailed:    {ScenarioPending},
	ScenarioCompleted: {},
}

var planTransitions = map[string][]string{
	PlanDraft:        {PlanApproved, PlanCancelled},
	PlanApproved:     {PlanInProduction, PlanCancelled},
	PlanInProduction: {PlanCompleted, PlanCancelled},
	PlanCompleted:    {},
	PlanCancelled:    {},
}

// ValidateScenarioTransition checks a scenario status move against the
// lifecycle, returning INVALID_STATUS_TRANSITION with the allowed next
// states when it is illegal.
func ValidateScenarioTransition(from, to string) error {
	return validateTransition("scenario", scenarioTransitions, from, to)
}

// ValidatePlanTransition checks a plan status move against the lifecycle.
func ValidatePlanTransition(from, to string) error {
	return validateTransition("plan", planTransitions, from, to)
}

// ScenarioStatusKnown reports whether s is a valid scenario status.
func ScenarioStatusKnown(s string) bool {
	_, ok := scenarioTransitions[s]
	return ok
}

// PlanStatusKnown reports whether s is a valid plan status.
func PlanStatusKnown(s string) bool {
	_, ok := planTransitions[s]
	return ok
}

// PlanTerminal reports whether a plan status admits no further transitions.
func PlanTerminal(s string) bool {
	next, ok := planTransitions[s]
	return ok && len(next) == 0
}

func validateTransition(kind string, machine map[string][]string, from, to string) error {
	allowed, ok := machine[from]
	if !ok {
		return Errf(CodeInvalidStatus, "unknown %s status %q", kind, from)
	}
	if _, ok := machine[to]; !ok {
		return Errf(CodeInvalidStatus, "unknown %s status %q", kind, to)
	}
	for _, next := range allowed {
		if next == to {
			return nil
		}
	}
	if len(allowed) == 0 {
		return Errf(CodeInvalidTransition, "%s status %s is terminal", kind, from)
	}
	sorted := append([]string(nil), allowed...)
	sort.Strings(sorted)
	return Errf(CodeInvalidTransition, "%s cannot move from %s to %s (allowed: %s)",
		kind, from, to, strings.Join(sorted, ", "))
}
