package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// ConfirmationRequest is presented to the UI collaborator when the Risk
// Router returns CONFIRM for a dispatch request.
type ConfirmationRequest struct {
	ID         string
	ToolCallID string
	ToolName   string
	Args       string // already-canonicalized/printable args
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// PlanReviewRequest is presented when the Risk Router returns APPROVE
// (HIGH risk write/exec), per spec.md section 4.3's "Plan Review
// exchange": show the plan and impacted paths, wait for explicit
// approval before the first write/exec.
type PlanReviewRequest struct {
	ID             string
	PlanTitle      string
	ImpactedPaths  []string
	FirstToolCall  string
	CreatedAt      time.Time
}

// Confirmer is the UI collaborator contract the Tool Lifecycle calls
// into for CONFIRM and APPROVE decisions. It is out of scope to
// implement (spec.md section 1 excludes terminal UI rendering); the core
// only depends on this interface.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (approved bool, err error)
	RequestPlanReview(ctx context.Context, req PlanReviewRequest) (approved bool, err error)
}

// ApprovalPolicy mirrors internal/agent/approval.go's ApprovalPolicy:
// which side-effect classes actually require a user round-trip (a CONFIRM
// decision from the Risk Router is necessary but not sufficient — the
// policy may also auto-approve reads-adjacent or pre-approved tools).
type ApprovalPolicy struct {
	ConfirmWrite bool
	ConfirmExec  bool
	Allowlist    []string // tool names that skip confirmation entirely
	RequestTTL   time.Duration
}

// DefaultApprovalPolicy matches the teacher's DefaultApprovalPolicy
// defaults, adapted to the spec's side-effect vocabulary.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		ConfirmWrite: true,
		ConfirmExec:  true,
		RequestTTL:   5 * time.Minute,
	}
}

// CommandSafety implements spec.md section 4.3 step 3: for exec tools,
// subject the command to a deny-list and an optional allow-list.
type CommandSafety struct {
	Denylist  []string
	Allowlist []string // if non-empty, only these prefixes are permitted
}

// Check reports whether cmd is permitted. Deny-list match always wins;
// otherwise, if an allow-list is configured, cmd must match a prefix in
// it.
func (cs CommandSafety) Check(cmd string) (ok bool, reason string) {
	trimmed := strings.TrimSpace(cmd)
	for _, bad := range cs.Denylist {
		if bad != "" && strings.HasPrefix(trimmed, bad) {
			return false, fmt.Sprintf("command matches deny-list entry %q", bad)
		}
	}
	if len(cs.Allowlist) > 0 {
		for _, good := range cs.Allowlist {
			if strings.HasPrefix(trimmed, good) {
				return true, ""
			}
		}
		return false, "command does not match any allow-list entry"
	}
	return true, ""
}

// Checker ties ApprovalPolicy + CommandSafety + a Confirmer together,
// used by the Tool Lifecycle's confirmation/command-safety steps.
type Checker struct {
	Policy    ApprovalPolicy
	Safety    CommandSafety
	Confirmer Confirmer
}

// NewChecker constructs a Checker with the default policy and no
// command-safety restrictions; callers override fields as needed.
func NewChecker(confirmer Confirmer) *Checker {
	return &Checker{
		Policy:    DefaultApprovalPolicy(),
		Confirmer: confirmer,
	}
}

// RequestConfirmation builds a ConfirmationRequest and asks the
// Confirmer, applying the allow-list short-circuit first.
func (c *Checker) RequestConfirmation(ctx context.Context, toolName, argsPreview, reason string) (bool, error) {
	for _, allowed := range c.Policy.Allowlist {
		if allowed == toolName {
			return true, nil
		}
	}
	if c.Confirmer == nil {
		return false, fmt.Errorf("no confirmer configured: cannot resolve CONFIRM decision for %q", toolName)
	}
	ttl := c.Policy.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	req := ConfirmationRequest{
		ID:        uuid.NewString(),
		ToolName:  toolName,
		Args:      argsPreview,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return c.Confirmer.RequestConfirmation(ctx, req)
}

// RequestPlanReview asks the Confirmer for APPROVE-tier decisions (HIGH
// risk write/exec).
func (c *Checker) RequestPlanReview(ctx context.Context, planTitle string, impactedPaths []string, firstToolCall string) (bool, error) {
	if c.Confirmer == nil {
		return false, fmt.Errorf("no confirmer configured: cannot resolve APPROVE decision")
	}
	req := PlanReviewRequest{
		ID:            uuid.NewString(),
		PlanTitle:     planTitle,
		ImpactedPaths: impactedPaths,
		FirstToolCall: firstToolCall,
		CreatedAt:     time.Now(),
	}
	return c.Confirmer.RequestPlanReview(ctx, req)
}

// RequiresConfirmation reports whether the ApprovalPolicy actually
// demands a confirmation round-trip for this side-effect class, given a
// CONFIRM decision from the Risk Router.
func (p ApprovalPolicy) RequiresConfirmation(side coremodels.SideEffectClass) bool {
	switch side {
	case coremodels.SideEffectWrite:
		return p.ConfirmWrite
	case coremodels.SideEffectExec, coremodels.SideEffectNetwork:
		return p.ConfirmExec
	default:
		return false
	}
}
