package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- State machine errors (-32010 to -32039) ----

var (
	ErrInvalidTransition  = &EngineError{Code: -32010, Message: "invalid phase transition"}
	ErrExecutionNotFound  = &EngineError{Code: -32011, Message: "execution not found"}
	ErrExecutionDone      = &EngineError{Code: -32012, Message: "execution already in a terminal phase"}
	ErrDuplicateExecution = &EngineError{Code: -32013, Message: "execution already exists"}
)

// ---- Budget / guard errors (-32040 to -32069) ----

var (
	ErrTrackerNotFound   = &EngineError{Code: -32040, Message: "no cost tracker for task"}
	ErrBudgetExceeded    = &EngineError{Code: -32041, Message: "budget limit exceeded"}
	ErrMaxRoundsExceeded = &EngineError{Code: -32042, Message: "maximum rework rounds exceeded"}
	ErrRateLimitExceeded = &EngineError{Code: -32043, Message: "rate limit exceeded"}
)

// ---- HITL errors (-32070 to -32099) ----

var (
	ErrCheckpointNotFound = &EngineError{Code: -32070, Message: "checkpoint not found"}
	ErrCheckpointResolved = &EngineError{Code: -32071, Message: "checkpoint is not pending"}
	ErrInvalidDecision    = &EngineError{Code: -32072, Message: "decision must be approve or reject"}
)

// ---- Provider errors (-32100 to -32129) ----

var (
	ErrProviderUnavailable = &EngineError{Code: -32100, Message: "generation provider unavailable"}
	ErrProviderExhausted   = &EngineError{Code: -32101, Message: "generation provider failed after all retries"}
	ErrTemplateNotFound    = &EngineError{Code: -32102, Message: "template not found"}
)

// ---- Store / config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery    = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite    = &EngineError{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid = &EngineError{Code: -32133, Message: "invalid configuration"}
)

// ProviderError is a failure reported by a generation provider.
// Status carries the HTTP-like status code returned by the provider;
// a zero status means the request never reached the provider.
type ProviderError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// NewProviderError creates a ProviderError.
func NewProviderError(status int, msg string) *ProviderError {
	return &ProviderError{Status: status, Message: msg}
}
