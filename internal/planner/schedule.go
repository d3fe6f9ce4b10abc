package planner

import "github.com/cluderun/agentcore/pkg/coremodels"

// Ready returns the ids of every PENDING step whose dependencies are all
// DONE, computed fresh from the adjacency lists each call (spec.md
// section 9: "No in-memory back-references are needed — the plan is
// small and flat").
func Ready(steps []coremodels.PlanStep) []string {
	status := make(map[string]coremodels.PlanStepStatus, len(steps))
	for _, s := range steps {
		status[s.ID] = s.Status
	}
	var ready []string
	for _, s := range steps {
		if s.Status != coremodels.StepPending {
			continue
		}
		allDone := true
		for _, dep := range s.Dependencies {
			if status[dep] != coremodels.StepDone {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s.ID)
		}
	}
	return ready
}

// MarkBlocked transitions every PENDING step whose dependencies can
// never all complete (a dependency is FAILED, SKIPPED, or itself BLOCKED
// with no path to DONE) to BLOCKED. It returns the number of steps
// changed so callers can detect a fixed point.
func MarkBlocked(steps []coremodels.PlanStep) int {
	status := make(map[string]coremodels.PlanStepStatus, len(steps))
	for _, s := range steps {
		status[s.ID] = s.Status
	}
	changed := 0
	for i := range steps {
		if steps[i].Status != coremodels.StepPending {
			continue
		}
		for _, dep := range steps[i].Dependencies {
			switch status[dep] {
			case coremodels.StepFailed, coremodels.StepSkipped, coremodels.StepBlocked:
				steps[i].Status = coremodels.StepBlocked
				status[steps[i].ID] = coremodels.StepBlocked
				changed++
			}
			if steps[i].Status == coremodels.StepBlocked {
				break
			}
		}
	}
	return changed
}

// Deadlocked reports whether every remaining (non-DONE, non-SKIPPED)
// step is BLOCKED or FAILED, per spec.md section 4.8: "If every
// remaining step is blocked or failed, the turn ends with
// stop_reason=deadlock."
func Deadlocked(steps []coremodels.PlanStep) bool {
	anyRemaining := false
	for _, s := range steps {
		switch s.Status {
		case coremodels.StepDone, coremodels.StepSkipped:
			continue
		case coremodels.StepBlocked, coremodels.StepFailed:
			anyRemaining = true
			continue
		default:
			return false
		}
	}
	return anyRemaining
}

// AllTerminal reports whether every step has reached a terminal status
// (DONE, FAILED, SKIPPED, or BLOCKED with no chance of becoming ready).
func AllTerminal(steps []coremodels.PlanStep) bool {
	for _, s := range steps {
		switch s.Status {
		case coremodels.StepDone, coremodels.StepFailed, coremodels.StepSkipped, coremodels.StepBlocked:
		default:
			return false
		}
	}
	return true
}
