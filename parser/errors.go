package parser

import "fmt"

// Kind names the field a ParseError is about.
type Kind string

const (
	MissingExternalID   Kind = "missing_external_id"
	MissingFacilityName Kind = "missing_facility_name"
	MalformedLocation   Kind = "malformed_location"
	MalformedAmount     Kind = "malformed_amount"
	MalformedTimestamp  Kind = "malformed_timestamp"
)

// ParseError reports a missing or malformed field in one listing fragment.
type ParseError struct {
	Kind   Kind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse: %s", e.Kind)
	}
	return fmt.Sprintf("parse: %s: %s", e.Kind, e.Detail)
}

func newError(kind Kind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
