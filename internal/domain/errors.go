package domain

import "fmt"

// Stable codes attached to each failure kind.
const (
	CodeConfiguration = "CONFIGURATION_FAILED"
	CodeVerification  = "WEBHOOK_VERIFICATION_FAILED"
	CodeParse         = "PARSE_FAILED"
	CodeSource        = "SOURCE_ADAPTER_ERROR"
	CodeAction        = "ACTION_ERROR"
	CodeEngine        = "ENGINE_ERROR"
)

// ConfigError is fatal at startup: unknown type tag, bad options, name collision.
type ConfigError struct {
	Msg   string
	Cause error
}

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Cause }
func (e *ConfigError) Code() string  { return CodeConfiguration }

type VerificationError struct {
	Adapter string
	Cause   error
}

func (e *VerificationError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: webhook verification failed", e.Adapter)
	}
	return fmt.Sprintf("%s: webhook verification failed: %v", e.Adapter, e.Cause)
}

func (e *VerificationError) Unwrap() error { return e.Cause }
func (e *VerificationError) Code() string  { return CodeVerification }

type ParseError struct {
	Adapter string
	Cause   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid payload: %v", e.Adapter, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }
func (e *ParseError) Code() string  { return CodeParse }

// SourceError wraps a failed query or write against a source.
type SourceError struct {
	Source string
	Op     string // query | write
	Cause  error
}

func (e *SourceError) Error() string {
	verb := "Query"
	if e.Op == "write" {
		verb = "Write"
	}
	return fmt.Sprintf("%s failed for %s: %v", verb, e.Source, e.Cause)
}

func (e *SourceError) Unwrap() error { return e.Cause }
func (e *SourceError) Code() string  { return CodeSource }

type ActionError struct {
	Action string
	Cause  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("Action failed for %s: %v", e.Action, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }
func (e *ActionError) Code() string  { return CodeAction }

// EngineError is returned by an engine run that did not complete.
type EngineError struct {
	MessageID string
	Cause     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failed for message %s: %v", e.MessageID, e.Cause)
}

func (e *EngineError) Unwrap() error { return e.Cause }
func (e *EngineError) Code() string  { return CodeEngine }
