package models

import (
	"time"
)

// Severity ranks a finding. CRITICAL and HIGH findings block execution,
// MEDIUM and LOW are advisory.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Blocking reports whether findings of this severity invalidate a plan.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// FindingKind is the fixed set of observations the gate can make
type FindingKind string

const (
	KindNodeNotFound        FindingKind = "NODE_NOT_FOUND"
	KindNodeDisabled        FindingKind = "NODE_DISABLED"
	KindMissingDependencies FindingKind = "MISSING_DEPENDENCIES"
	KindNodeToolNotFound    FindingKind = "NODE_TOOL_NOT_FOUND"
	KindWorkflowNotFound    FindingKind = "WORKFLOW_NOT_FOUND"
	KindFileNotFound        FindingKind = "FILE_NOT_FOUND"
	KindToolNotFound        FindingKind = "TOOL_NOT_FOUND"
	KindToolNotExecutable   FindingKind = "TOOL_NOT_EXECUTABLE"
	KindServiceUnregistered FindingKind = "SERVICE_NOT_REGISTERED"
	KindServiceUnconfigured FindingKind = "SERVICE_UNCONFIGURED"
	KindServiceUnhealthy    FindingKind = "SERVICE_UNHEALTHY"
)

// Correctable reports whether a rename of the referenced name could resolve
// a finding of this kind.
func (k FindingKind) Correctable() bool {
	switch k {
	case KindNodeNotFound, KindWorkflowNotFound, KindToolNotFound:
		return true
	}
	return false
}

// Section returns the plan section a correctable kind refers to.
func (k FindingKind) Section() (PlanSection, bool) {
	switch k {
	case KindNodeNotFound:
		return SectionNodes, true
	case KindWorkflowNotFound:
		return SectionWorkflows, true
	case KindToolNotFound:
		return SectionTools, true
	}
	return "", false
}

// Finding is one validation observation about a plan component
type Finding struct {
	Type      FindingKind `json:"type"`
	Component string      `json:"component"`
	Message   string      `json:"message"`
	Severity  Severity    `json:"severity"`
}

// Correction records the substitution of a reference name by a more plausible one
type Correction struct {
	Original    string      `json:"original"`
	CorrectedTo string      `json:"corrected_to"`
	Type        FindingKind `json:"type"`
	Confidence  float64     `json:"confidence"`
	Reason      string      `json:"reason"`
}

// CorrectionRecord is an entry of the gate's correction history
type CorrectionRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	Original  string      `json:"original"`
	Corrected string      `json:"corrected"`
	Type      FindingKind `json:"type"`
}

// ValidationResult is the outcome of validating one execution plan
type ValidationResult struct {
	ValidationID  string         `json:"validation_id"`
	Valid         bool           `json:"valid"`
	Errors        []Finding      `json:"errors"`
	Warnings      []Finding      `json:"warnings"`
	Corrections   []Correction   `json:"corrections"`
	CorrectedPlan *ExecutionPlan `json:"corrected_plan"`
	Timestamp     time.Time      `json:"validation_timestamp"`
	ValidatedBy   string         `json:"validated_by"`
}

// Clone returns a deep copy of the result.
func (r *ValidationResult) Clone() *ValidationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Errors = append([]Finding{}, r.Errors...)
	out.Warnings = append([]Finding{}, r.Warnings...)
	out.Corrections = append([]Correction{}, r.Corrections...)
	out.CorrectedPlan = r.CorrectedPlan.Clone()
	return &out
}

// AuditEntry summarizes one validation for the execution audit log
type AuditEntry struct {
	ID           string    `json:"id"`
	ValidationID string    `json:"validation_id"`
	Timestamp    time.Time `json:"timestamp"`
	Fingerprint  string    `json:"fingerprint"`
	Valid        bool      `json:"valid"`
	Errors       int       `json:"errors"`
	Warnings     int       `json:"warnings"`
	Corrections  int       `json:"corrections"`
}
