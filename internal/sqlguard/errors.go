package sqlguard

import "fmt"

type Reason string

const (
	ReasonUnsafeStatement   Reason = "unsafeStatement"
	ReasonUnknownIdentifier Reason = "unknownIdentifier"
	ReasonMultiStatement    Reason = "multiStatement"
)

func (r Reason) text() string {
	switch r {
	case ReasonUnknownIdentifier:
		return "unknown identifier"
	case ReasonMultiStatement:
		return "multiple statements"
	default:
		return "unsafe statement"
	}
}

// ValidationError names the rule a candidate statement broke. Detail is safe
// to show to users and specific enough to feed back into a later prompt.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason.text(), e.Detail)
}

func unsafe(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: ReasonUnsafeStatement, Detail: fmt.Sprintf(format, args...)}
}

func unknown(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: ReasonUnknownIdentifier, Detail: fmt.Sprintf(format, args...)}
}

type ExtractionError struct {
	Detail string
}

func (e *ExtractionError) Error() string {
	return "no SQL statement found: " + e.Detail
}
