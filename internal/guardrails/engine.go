// Package guardrails validates generated artifacts against per-type rules
// before they are handed to a review checkpoint.
package guardrails

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Rule checks one artifact payload and returns the violations it found.
// An empty slice means the artifact passed.
type Rule func(content []byte) []string

// Engine dispatches artifact payloads to the rule registered for their
// type. Types with no registered rule are accepted as-is.
type Engine struct {
	rules map[string]Rule
}

// NewEngine returns an Engine with the built-in architecture rule
// registered.
func NewEngine() *Engine {
	e := &Engine{rules: make(map[string]Rule)}
	e.Register("architecture", validateArchitecture)
	return e
}

// Register installs or replaces the rule for an artifact type.
func (e *Engine) Register(artifactType string, rule Rule) {
	e.rules[artifactType] = rule
}

// Validate runs the rule for the given artifact type. The boolean is
// true when the artifact is acceptable; the slice lists every violation
// found in a single pass.
func (e *Engine) Validate(artifactType string, content []byte) (bool, []string) {
	rule, ok := e.rules[artifactType]
	if !ok {
		return true, nil
	}
	violations := rule(content)
	return len(violations) == 0, violations
}

var openAPIVersionRe = regexp.MustCompile(`openapi.*3\.[0-9]`)

type adrRecord struct {
	Title        string `json:"title"`
	Decision     string `json:"decision"`
	Consequences string `json:"consequences"`
}

type architectureDoc struct {
	NFR        []string    `json:"nfr"`
	Security   []string    `json:"security"`
	APISpec    string      `json:"api_spec"`
	ADRRecords []adrRecord `json:"adr_records"`
}

// validateArchitecture enforces the minimum contract on an architecture
// artifact: enough substantive non-functional requirements, explicit
// security requirements, an OpenAPI 3.x API spec, and at least three
// complete decision records.
func validateArchitecture(content []byte) []string {
	var doc architectureDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return []string{fmt.Sprintf("artifact is not valid JSON: %v", err)}
	}

	var violations []string

	if len(doc.NFR) < 5 {
		violations = append(violations, fmt.Sprintf("nfr has %d entries, need at least 5", len(doc.NFR)))
	}
	for i, nfr := range doc.NFR {
		if len(nfr) < 50 {
			violations = append(violations, fmt.Sprintf("nfr[%d] is %d chars, need at least 50", i, len(nfr)))
		}
	}

	if len(doc.Security) < 3 {
		violations = append(violations, fmt.Sprintf("security has %d entries, need at least 3", len(doc.Security)))
	}

	if !openAPIVersionRe.MatchString(doc.APISpec) {
		violations = append(violations, "api_spec must reference an OpenAPI 3.x document")
	}

	if len(doc.ADRRecords) < 3 {
		violations = append(violations, fmt.Sprintf("adr_records has %d entries, need at least 3", len(doc.ADRRecords)))
	}
	for i, adr := range doc.ADRRecords {
		if adr.Title == "" {
			violations = append(violations, fmt.Sprintf("adr_records[%d] is missing a title", i))
		}
		if adr.Decision == "" {
			violations = append(violations, fmt.Sprintf("adr_records[%d] is missing a decision", i))
		}
		if adr.Consequences == "" {
			violations = append(violations, fmt.Sprintf("adr_records[%d] is missing consequences", i))
		}
	}

	return violations
}
