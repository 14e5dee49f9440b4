package registry

import (
	"fmt"

	"github.com/sahilm/fuzzy"
)

// Kind names a registry namespace
type Kind string

const (
	KindNode     Kind = "node"
	KindWorkflow Kind = "workflow"
	KindTool     Kind = "tool"
	KindService  Kind = "service"
)

// ParseKind converts a user supplied namespace name. The empty string means
// all namespaces and yields "".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindNode, KindWorkflow, KindTool, KindService:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown registry kind %q", s)
}

// Names returns the names of one namespace of v.
func Names(v View, k Kind) []string {
	switch k {
	case KindNode:
		return v.NodeNames()
	case KindWorkflow:
		return v.WorkflowNames()
	case KindTool:
		return v.ToolNames()
	case KindService:
		return v.ServiceNames()
	}
	return nil
}

// Match is a registry name matching a search query
type Match struct {
	Kind  Kind   `json:"kind"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Search finds registry names containing the query characters in order
// (subsequence match), best first. An empty kind searches every namespace.
// A limit <= 0 returns all matches.
func Search(v View, query string, kind Kind, limit int) []Match {
	kinds := []Kind{kind}
	if kind == "" {
		kinds = []Kind{KindNode, KindWorkflow, KindTool, KindService}
	}

	var names []string
	var owners []Kind
	for _, k := range kinds {
		for _, n := range Names(v, k) {
			names = append(names, n)
			owners = append(owners, k)
		}
	}

	found := fuzzy.Find(query, names)
	matches := make([]Match, 0, len(found))
	for _, f := range found {
		matches = append(matches, Match{Kind: owners[f.Index], Name: f.Str, Score: f.Score})
		if limit > 0 && len(matches) == limit {
			break
		}
	}
	return matches
}
