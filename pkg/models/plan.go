// Package models defines the wire types exchanged with the plan gate
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlanSection identifies one of the four reference lists of an execution plan
type PlanSection string

const (
	SectionNodes     PlanSection = "nodes_to_invoke"
	SectionWorkflows PlanSection = "workflows_to_execute"
	SectionTools     PlanSection = "tools_to_use"
	SectionServices  PlanSection = "services_required"
)

// PlanEntry is a single named reference inside a plan section
type PlanEntry struct {
	Name          string         `json:"name" yaml:"name"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	AutoCorrected bool           `json:"auto_corrected,omitempty" yaml:"auto_corrected,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare string holding the name.
func (e *PlanEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*e = PlanEntry{Name: name}
		return nil
	}

	type plain PlanEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = PlanEntry(p)
	return nil
}

// ExecutionPlan is the set of node, workflow, tool and service references
// proposed for one execution.
type ExecutionPlan struct {
	NodesToInvoke      []PlanEntry `json:"nodes_to_invoke,omitempty" yaml:"nodes_to_invoke,omitempty"`
	WorkflowsToExecute []PlanEntry `json:"workflows_to_execute,omitempty" yaml:"workflows_to_execute,omitempty"`
	ToolsToUse         []PlanEntry `json:"tools_to_use,omitempty" yaml:"tools_to_use,omitempty"`
	ServicesRequired   []PlanEntry `json:"services_required,omitempty" yaml:"services_required,omitempty"`
}

// Section returns the entries of the given section, or nil for an unknown one.
func (p *ExecutionPlan) Section(s PlanSection) []PlanEntry {
	if p == nil {
		return nil
	}
	switch s {
	case SectionNodes:
		return p.NodesToInvoke
	case SectionWorkflows:
		return p.WorkflowsToExecute
	case SectionTools:
		return p.ToolsToUse
	case SectionServices:
		return p.ServicesRequired
	}
	return nil
}

// Rename replaces the name of every entry in section whose name is exactly
// from, flags the entry as auto-corrected, and returns how many were changed.
func (p *ExecutionPlan) Rename(s PlanSection, from, to string) int {
	entries := p.Section(s)
	renamed := 0
	for i := range entries {
		if entries[i].Name == from {
			entries[i].Name = to
			entries[i].AutoCorrected = true
			renamed++
		}
	}
	return renamed
}

// IsEmpty reports whether the plan references nothing at all.
func (p *ExecutionPlan) IsEmpty() bool {
	return p == nil || len(p.NodesToInvoke)+len(p.WorkflowsToExecute)+len(p.ToolsToUse)+len(p.ServicesRequired) == 0
}

// Clone returns a deep copy of the plan. A nil plan clones to an empty one.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return &ExecutionPlan{}
	}
	return &ExecutionPlan{
		NodesToInvoke:      cloneEntries(p.NodesToInvoke),
		WorkflowsToExecute: cloneEntries(p.WorkflowsToExecute),
		ToolsToUse:         cloneEntries(p.ToolsToUse),
		ServicesRequired:   cloneEntries(p.ServicesRequired),
	}
}

func cloneEntries(in []PlanEntry) []PlanEntry {
	if in == nil {
		return nil
	}
	out := make([]PlanEntry, len(in))
	for i, e := range in {
		out[i] = PlanEntry{
			Name:          e.Name,
			AutoCorrected: e.AutoCorrected,
		}
		if e.Metadata != nil {
			out[i].Metadata = cloneValue(e.Metadata).(map[string]any)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

// DecodePlan parses a JSON execution plan leniently. The document itself must
// be a JSON object; a section that is absent, null or not a list of entries is
// treated as empty rather than failing the whole plan.
func DecodePlan(data []byte) (*ExecutionPlan, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("execution plan must be a JSON object: %w", err)
	}

	plan := &ExecutionPlan{}
	plan.NodesToInvoke = decodeSection(raw[string(SectionNodes)])
	plan.WorkflowsToExecute = decodeSection(raw[string(SectionWorkflows)])
	plan.ToolsToUse = decodeSection(raw[string(SectionTools)])
	plan.ServicesRequired = decodeSection(raw[string(SectionServices)])
	return plan, nil
}

func decodeSection(raw json.RawMessage) []PlanEntry {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	entries := make([]PlanEntry, 0, len(items))
	for _, item := range items {
		if isNull(item) {
			continue
		}
		var e PlanEntry
		if err := json.Unmarshal(item, &e); err != nil {
			// An entry that is neither a name nor an object has no reference to check.
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
