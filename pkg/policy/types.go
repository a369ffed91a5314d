package policy

import (
	"time"

	"github.com/hpconf/hpconf/pkg/refs"
	"github.com/hpconf/hpconf/pkg/section"
)

// Severity represents the severity level of a lint violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for configurations the router will not run correctly.
	SeverityError Severity = "error"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Blocking reports whether the severity fails a lint run.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy represents a lint rule with its Rego code. The module must define
// a "deny" set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with hpconf.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single lint finding.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// SectionType and Section locate the offending section, if any.
	SectionType string `json:"section_type,omitempty"`
	Section     string `json:"section,omitempty"`

	// Field is the offending field key, if any.
	Field string `json:"field,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of a lint run.
type Result struct {
	// Violations lists all findings ordered by section and policy.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the lint ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Passed reports whether no blocking violation was found.
func (r *Result) Passed() bool {
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			return false
		}
	}
	return true
}

// Count returns the number of violations of a severity.
func (r *Result) Count(s Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}

// Input is the document policies evaluate. Sections are grouped by type in
// user order.
type Input struct {
	Sections  map[string][]SectionInput `json:"sections"`
	Dangling  []refs.Dangling          `json:"dangling"`
	Externals map[string]string        `json:"externals,omitempty"`
}

// SectionInput is one section as seen by policies.
type SectionInput struct {
	ID      string              `json:"id"`
	Label   string              `json:"label"`
	Enabled bool                `json:"enabled"`
	Values  map[string][]string `json:"values"`
}

// NewInput builds the policy input from a snapshot and its dangling
// references.
func NewInput(snap *section.Snapshot, dangling []refs.Dangling) *Input {
	in := &Input{
		Sections: make(map[string][]SectionInput),
		Dangling: dangling,
	}
	if in.Dangling == nil {
		in.Dangling = []refs.Dangling{}
	}

	for _, t := range snap.Types() {
		list := []SectionInput{}
		for _, s := range snap.SectionsOfType(t) {
			values := make(map[string][]string, len(s.Values))
			for k, v := range s.Values {
				values[k] = append([]string{}, v...)
			}
			list = append(list, SectionInput{
				ID:      s.ID,
				Label:   s.Label(),
				Enabled: s.Enabled(),
				Values:  values,
			})
		}
		in.Sections[t] = list
	}
	return in
}
