// internal/agent/errors.go
package agent

// ErrorCode classifies why a run ended the way it did, or why a single step was
// not acted on. It travels with a Result so callers can report it without parsing
// the message.
type ErrorCode string

const (
	// ErrCodeNone marks a run that completed normally.
	ErrCodeNone ErrorCode = ""

	// ErrCodeTransientIO is a model or search call that failed after its retry.
	ErrCodeTransientIO ErrorCode = "TRANSIENT_IO"
	// ErrCodeDecisionUnparseable means the model reply held no usable action. It is
	// recorded in history and the loop carries on.
	ErrCodeDecisionUnparseable ErrorCode = "DECISION_UNPARSEABLE"
	// ErrCodeActionFailure is a browser operation that failed after its retry. Fatal.
	ErrCodeActionFailure ErrorCode = "ACTION_FAILURE"
	// ErrCodeModelError is an error action chosen by the model itself.
	ErrCodeModelError ErrorCode = "MODEL_ERROR"

	// -- Soft terminal conditions --
	ErrCodeIterationExhausted ErrorCode = "ITERATION_EXHAUSTED"
	ErrCodeVerifyLoopDetected ErrorCode = "VERIFY_LOOP_DETECTED"
	ErrCodeTaskTimeout        ErrorCode = "TASK_TIMEOUT"

	// ErrCodePanic is a recovered panic anywhere in the run.
	ErrCodePanic ErrorCode = "PANIC"
)
