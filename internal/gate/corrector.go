package gate

import (
	"fmt"
	"sort"

	"plangate/internal/registry"
	"plangate/internal/similarity"
	"plangate/pkg/models"
)

// SimilarityThreshold is the score a candidate name must exceed to be used
// as a correction.
const SimilarityThreshold = 0.6

// Candidate is a registry name scored against an unresolved reference
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// RankCandidates scores every name against ref and returns those scoring
// above threshold, best first. Equal scores are ordered by name.
func RankCandidates(ref string, names []string, threshold float64) []Candidate {
	var out []Candidate
	for _, n := range names {
		score := similarity.Ratio(ref, n)
		if score > threshold {
			out = append(out, Candidate{Name: n, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// findingKey identifies an error by kind and referenced name.
type findingKey struct {
	kind models.FindingKind
	name string
}

// correctionOutcome is the result of one auto-correction pass.
type correctionOutcome struct {
	corrections []models.Correction
	// resolved holds the errors a correction was applied for.
	resolved map[findingKey]bool
}

func (o correctionOutcome) corrected() bool {
	return len(o.corrections) > 0
}

// namespace returns the registry names a correctable kind is resolved against.
func namespace(v registry.View, kind models.FindingKind) []string {
	switch kind {
	case models.KindNodeNotFound:
		return v.NodeNames()
	case models.KindWorkflowNotFound:
		return v.WorkflowNames()
	case models.KindToolNotFound:
		return v.ToolNames()
	}
	return nil
}

// autoCorrect renames unresolved references in plan to their closest registry
// names. plan is modified in place and must be the gate's private copy.
// Only not-found errors are considered; each distinct (kind, name) pair yields
// at most one correction, applied to every entry carrying that name.
func autoCorrect(plan *models.ExecutionPlan, errs []models.Finding, view registry.View, threshold float64) correctionOutcome {
	out := correctionOutcome{resolved: make(map[findingKey]bool)}
	seen := make(map[findingKey]bool)

	for _, f := range errs {
		if !f.Type.Correctable() {
			continue
		}
		key := findingKey{kind: f.Type, name: f.Component}
		if seen[key] {
			continue
		}
		seen[key] = true

		candidates := RankCandidates(f.Component, namespace(view, f.Type), threshold)
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]

		section, _ := f.Type.Section()
		plan.Rename(section, f.Component, best.Name)

		out.corrections = append(out.corrections, models.Correction{
			Original:    f.Component,
			CorrectedTo: best.Name,
			Type:        f.Type,
			Confidence:  best.Score,
			Reason:      fmt.Sprintf("Fuzzy match with %.0f%% similarity", best.Score*100),
		})
		out.resolved[key] = true
	}
	return out
}

// unresolved returns the errors no correction was applied for.
func unresolved(errs []models.Finding, resolved map[findingKey]bool) []models.Finding {
	out := make([]models.Finding, 0, len(errs))
	for _, f := range errs {
		if resolved[findingKey{kind: f.Type, name: f.Component}] {
			continue
		}
		out = append(out, f)
	}
	return out
}
