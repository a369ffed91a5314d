// Package cfgerrors defines the classified errors produced while editing a
// proxy router configuration.
package cfgerrors

import (
	"errors"
	"fmt"
)

// Kind represents the classification of a configuration error.
type Kind string

const (
	// KindEmptyRequiredField indicates a required, visible field was left empty.
	KindEmptyRequiredField Kind = "empty_required_field"

	// KindInvalidFormat indicates a value does not match the field's datatype
	// or is not one of the field's allowed values.
	KindInvalidFormat Kind = "invalid_format"

	// KindDuplicateIdentifier indicates a label, identifier or list entry
	// collides with an existing one.
	KindDuplicateIdentifier Kind = "duplicate_identifier"

	// KindRecursiveReference indicates a reference would introduce a self loop
	// or a cycle into a reference graph.
	KindRecursiveReference Kind = "recursive_reference"

	// KindConflictingSelection indicates mutually exclusive selections,
	// e.g. the "any" sentinel combined with specific values.
	KindConflictingSelection Kind = "conflicting_selection"

	// KindTransportUnavailable indicates a remote control call failed or timed out.
	KindTransportUnavailable Kind = "transport_unavailable"

	// KindInactiveField indicates a write targeted a field hidden by its predicate.
	KindInactiveField Kind = "inactive_field"

	// KindNotFound indicates an unknown section type, section or field.
	KindNotFound Kind = "not_found"

	// KindInternal indicates a failure that is not the caller's fault,
	// such as a store write error.
	KindInternal Kind = "internal"
)

// Error is a field-scoped configuration error.
type Error struct {
	// Kind is the error classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable message shown next to the field.
	Message string `json:"message"`

	// SectionType is the section type the error applies to, if any.
	SectionType string `json:"section_type,omitempty"`

	// Section is the section identifier the error applies to, if any.
	Section string `json:"section,omitempty"`

	// Field is the field key the error applies to, if any.
	Field string `json:"field,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context, e.g. a cycle path.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	scope := e.scope()
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if scope == "" {
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, scope, msg)
}

func (e *Error) scope() string {
	switch {
	case e.SectionType != "" && e.Section != "" && e.Field != "":
		return fmt.Sprintf("%s.%s.%s", e.SectionType, e.Section, e.Field)
	case e.SectionType != "" && e.Section != "":
		return fmt.Sprintf("%s.%s", e.SectionType, e.Section)
	case e.SectionType != "":
		return e.SectionType
	}
	return e.Field
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithSection scopes the error to a section.
func (e *Error) WithSection(sectionType, id string) *Error {
	e.SectionType = sectionType
	e.Section = id
	return e
}

// WithField scopes the error to a field.
func (e *Error) WithField(key string) *Error {
	e.Field = key
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrEmptyRequiredField   = &Error{Kind: KindEmptyRequiredField}
	ErrInvalidFormat        = &Error{Kind: KindInvalidFormat}
	ErrDuplicateIdentifier  = &Error{Kind: KindDuplicateIdentifier}
	ErrRecursiveReference   = &Error{Kind: KindRecursiveReference}
	ErrConflictingSelection = &Error{Kind: KindConflictingSelection}
	ErrTransportUnavailable = &Error{Kind: KindTransportUnavailable}
	ErrInactiveField        = &Error{Kind: KindInactiveField}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind returns true if err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsLocal returns true if the error is recovered locally by rejecting the
// write and keeping the prior value.
func IsLocal(err error) bool {
	switch KindOf(err) {
	case KindEmptyRequiredField, KindInvalidFormat, KindDuplicateIdentifier,
		KindRecursiveReference, KindConflictingSelection, KindInactiveField:
		return true
	}
	return false
}
