// Package policy implements the Risk Router and the Confirmation /
// Approval gate used by the Tool Lifecycle (spec.md sections 4.3, 4.11).
package policy

import "github.com/cluderun/agentcore/pkg/coremodels"

// Decide is the pure function (risk_level, tool_side_effects) ->
// ExecutionDecision from spec.md section 4.11's table. It never touches
// I/O and never returns an error: every (RiskLevel, SideEffectClass) pair
// is defined.
func Decide(risk coremodels.RiskLevel, side coremodels.SideEffectClass) coremodels.ExecutionDecision {
	if side == coremodels.SideEffectRead {
		return coremodels.DecisionAuto
	}
	// network side-effects are routed the same as exec: they can affect
	// state outside the workspace, so they are never AUTO.
	switch risk {
	case coremodels.RiskLow, coremodels.RiskMedium:
		return coremodels.DecisionConfirm
	case coremodels.RiskHigh:
		return coremodels.DecisionApprove
	case coremodels.RiskCritical:
		return coremodels.DecisionReject
	default:
		return coremodels.DecisionConfirm
	}
}
