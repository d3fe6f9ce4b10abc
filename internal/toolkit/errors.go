package toolkit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cluderun/agentcore/pkg/coremodels"
)

// Sentinel errors for coarse dispatch conditions, mirroring the
// teacher's internal/agent/errors.go sentinel set.
var (
	ErrToolNotFound = errors.New("tool not registered or not callable by model")
	ErrToolTimeout  = errors.New("tool handler exceeded its wall-clock bound")
	ErrToolPanic    = errors.New("tool handler panicked")
)

// ToolErrorType classifies a ToolError for retry policy decisions.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether a tool call of this error type is worth
// retrying, mirroring the teacher's ToolErrorType.IsRetryable.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork:
		return true
	default:
		return false
	}
}

// ToolError is a typed error describing one failed tool dispatch.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Code       coremodels.ErrorCode
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("tool %q: %s", e.ToolName, e.Message)
	}
	return e.Message
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError builds a ToolError from an underlying error, classifying
// it by sentinel match first, then substring match, mirroring the
// teacher's classifyToolError.
func NewToolError(toolName string, cause error) *ToolError {
	t := classifyToolError(cause)
	code := coremodels.ErrTool
	switch t {
	case ToolErrorNotFound:
		code = coremodels.ErrNoTool
	case ToolErrorTimeout:
		code = coremodels.ErrToolTimeout
	case ToolErrorInvalidInput:
		code = coremodels.ErrInvalidArgs
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ToolError{
		Type:     t,
		ToolName: toolName,
		Code:     code,
		Message:  msg,
		Cause:    cause,
	}
}

func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

// classifyToolError mirrors internal/agent/errors.go's classifyToolError:
// sentinel errors are checked first via errors.Is, then the error string
// is matched against coarse substrings.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ToolErrorNotFound
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, ErrToolPanic):
		return ToolErrorPanic
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "network"):
		return ToolErrorNetwork
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied"):
		return ToolErrorPermission
	case strings.Contains(msg, "invalid argument") || strings.Contains(msg, "invalid input") || strings.Contains(msg, "validation"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError reports whether err is (or wraps) a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// GetToolError extracts a *ToolError from err, if any.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsToolRetryable reports whether err, unwrapped to a *ToolError,
// represents a retryable failure class.
func IsToolRetryable(err error) bool {
	te, ok := GetToolError(err)
	if !ok {
		return false
	}
	return te.Type.IsRetryable()
}
