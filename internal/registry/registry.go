// Package registry provides the read-only lookup surface of named nodes,
// workflows, tools and services that execution plans are checked against.
package registry

import (
	"sort"
	"sync/atomic"
)

// Node status values understood by the gate.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusUnknown  = "unknown"
	StatusError    = "error"
)

// Node is an invocable unit of work
type Node struct {
	Status       string   `json:"status" yaml:"status" toml:"status"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies"`
	PrimaryTool  string   `json:"primary_tool,omitempty" yaml:"primary_tool,omitempty" toml:"primary_tool"`
}

// Workflow is an executable workflow definition, optionally backed by a file
type Workflow struct {
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty" toml:"file_path"`
}

// Tool is a tool that nodes and plans may use
type Tool struct {
	ExecutablePath string `json:"executable_path,omitempty" yaml:"executable_path,omitempty" toml:"executable_path"`
}

// Service is a service a plan may depend on
type Service struct {
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint"`
	HealthCheckURL string `json:"health_check_url,omitempty" yaml:"health_check_url,omitempty" toml:"health_check_url"`
	Status         string `json:"status,omitempty" yaml:"status,omitempty" toml:"status"`
}

// View is the read-only registry surface consumed by the gate.
type View interface {
	Node(name string) (Node, bool)
	Workflow(name string) (Workflow, bool)
	Tool(name string) (Tool, bool)
	Service(name string) (Service, bool)

	NodeNames() []string
	WorkflowNames() []string
	ToolNames() []string
	ServiceNames() []string
}

// Source yields the View to use for one validation pass. Every lookup of a
// pass goes to the same View even if the source changes meanwhile.
type Source interface {
	View() View
}

// Snapshot is the serialized form of a registry. Records are keyed by name.
type Snapshot struct {
	Nodes     map[string]Node     `json:"nodes" yaml:"nodes" toml:"nodes"`
	Workflows map[string]Workflow `json:"workflows" yaml:"workflows" toml:"workflows"`
	Tools     map[string]Tool     `json:"tools" yaml:"tools" toml:"tools"`
	Services  map[string]Service  `json:"services" yaml:"services" toml:"services"`
}

// Registry is an immutable in-memory View.
type Registry struct {
	snap Snapshot

	nodeNames     []string
	workflowNames []string
	toolNames     []string
	serviceNames  []string
}

// New builds a Registry from a snapshot. The snapshot maps are copied so later
// changes by the caller are not observed.
func New(snap Snapshot) *Registry {
	r := &Registry{
		snap: Snapshot{
			Nodes:     copyMap(snap.Nodes),
			Workflows: copyMap(snap.Workflows),
			Tools:     copyMap(snap.Tools),
			Services:  copyMap(snap.Services),
		},
	}
	r.nodeNames = sortedKeys(r.snap.Nodes)
	r.workflowNames = sortedKeys(r.snap.Workflows)
	r.toolNames = sortedKeys(r.snap.Tools)
	r.serviceNames = sortedKeys(r.snap.Services)
	return r
}

// View returns r itself; a Registry is its own Source.
func (r *Registry) View() View { return r }

func (r *Registry) Node(name string) (Node, bool) {
	n, ok := r.snap.Nodes[name]
	return n, ok
}

func (r *Registry) Workflow(name string) (Workflow, bool) {
	w, ok := r.snap.Workflows[name]
	return w, ok
}

func (r *Registry) Tool(name string) (Tool, bool) {
	t, ok := r.snap.Tools[name]
	return t, ok
}

func (r *Registry) Service(name string) (Service, bool) {
	s, ok := r.snap.Services[name]
	return s, ok
}

// NodeNames returns all node names in sorted order. The slice must not be modified.
func (r *Registry) NodeNames() []string     { return r.nodeNames }
func (r *Registry) WorkflowNames() []string { return r.workflowNames }
func (r *Registry) ToolNames() []string     { return r.toolNames }
func (r *Registry) ServiceNames() []string  { return r.serviceNames }

// Counts returns the number of records per kind.
func (r *Registry) Counts() map[Kind]int {
	return map[Kind]int{
		KindNode:     len(r.nodeNames),
		KindWorkflow: len(r.workflowNames),
		KindTool:     len(r.toolNames),
		KindService:  len(r.serviceNames),
	}
}

// Store holds the current Registry and lets it be swapped atomically while
// readers keep a consistent view of the one they loaded.
type Store struct {
	current atomic.Pointer[Registry]
}

// NewStore creates a Store serving r.
func NewStore(r *Registry) *Store {
	s := &Store{}
	s.Swap(r)
	return s
}

// Current returns the registry in effect.
func (s *Store) Current() *Registry {
	return s.current.Load()
}

// View returns the registry in effect.
func (s *Store) View() View {
	return s.Current()
}

// Swap replaces the registry in effect. A nil registry is replaced by an empty one.
func (s *Store) Swap(r *Registry) {
	if r == nil {
		r = New(Snapshot{})
	}
	s.current.Store(r)
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
