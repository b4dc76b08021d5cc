package rollout

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/prospectiq/cortex/engine"
)

// Experiment routes a percentage of entities to a candidate document
// version while the rest stay on the control version. Assignment is by
// consistent hashing of the entity id, so the same entity always lands
// on the same side without any stored state, and engine internals are
// never touched.
type Experiment struct {
	Name             string `json:"name"`
	Control          string `json:"control"`
	Candidate        string `json:"candidate"`
	CandidatePercent int    `json:"candidatePercent"`
}

// Validate checks the experiment definition.
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if e.Control == "" || e.Candidate == "" {
		return fmt.Errorf("experiment requires control and candidate versions")
	}
	if e.Control == e.Candidate {
		return fmt.Errorf("control and candidate must be different versions")
	}
	if e.CandidatePercent < 0 || e.CandidatePercent > 100 {
		return fmt.Errorf("candidatePercent must be in [0, 100], got %d", e.CandidatePercent)
	}
	return nil
}

// Assign returns the document version an entity belongs to. The bucket
// is salted with the experiment name so the same entities do not
// always land in the candidate group across unrelated experiments.
func (e *Experiment) Assign(entityID string) string {
	h := fnv.New32a()
	h.Write([]byte(e.Name))
	h.Write([]byte(":"))
	h.Write([]byte(entityID))
	bucket := int(h.Sum32() % 100)

	if bucket < e.CandidatePercent {
		return e.Candidate
	}
	return e.Control
}

// ScoreAdjustment is the additive confidence correction the feedback
// service derives from historical outcomes. The engine's own output is
// never mutated retroactively: the caller applies the correction on
// top of the confidence an execution reported.
type ScoreAdjustment struct {
	RuleName        string    `json:"ruleName"`
	ConfidenceDelta float64   `json:"confidenceDelta"`
	SampleSize      int       `json:"sampleSize"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AdjustedConfidence returns an execution's confidence with a feedback
// correction applied, clamped back into [0, 1]. The result itself is
// left untouched.
func AdjustedConfidence(result *engine.ExecutionResult, adj *ScoreAdjustment) float64 {
	if result == nil {
		return 0
	}
	confidence := result.Confidence
	if adj != nil && adj.RuleName == result.RuleName {
		confidence += adj.ConfidenceDelta
	}
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
