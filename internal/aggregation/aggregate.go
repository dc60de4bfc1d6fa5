// Package aggregation settles an evaluation round: it folds the settled rubric
// items of a target into a weighted aggregate score and a success verdict, and
// commits that outcome exactly once per round through the store's guarded
// transition.
package aggregation

import (
	"github.com/ahrav/go-canvas/internal/domain"
)

// Policy holds the aggregation knobs that are not stored per target.
type Policy struct {
	// DefaultThreshold applies to targets without their own success threshold.
	DefaultThreshold float64
}

// DefaultPolicy returns the policy used by every aggregation path.
func DefaultPolicy() Policy {
	return Policy{DefaultThreshold: domain.DefaultSuccessThreshold}
}

// Compute aggregates items for t using DefaultPolicy.
func Compute(t domain.Target, items []domain.EvalItem) (domain.Aggregate, bool) {
	return DefaultPolicy().Compute(t, items)
}

// Compute folds the criterion-bearing items of a round into an aggregate.
//
// ready is false while any criterion-bearing item is still idle or running.
// Once every item has settled, the score is the weight-normalized mean over
// items that completed with a score, and success additionally requires every
// required item to pass on its own. Both fields are nil when no item produced
// a usable score.
func (p Policy) Compute(t domain.Target, items []domain.EvalItem) (domain.Aggregate, bool) {
	var (
		weighted    float64
		totalWeight float64
		usable      int
		gate        = true
	)
	for _, it := range items {
		if !it.HasCriteria() {
			continue
		}
		if !it.Settled() {
			return domain.Aggregate{}, false
		}
		if it.Required && !it.Passes() {
			gate = false
		}
		if !it.Usable() {
			continue
		}
		w := it.EffectiveWeight()
		weighted += w * *it.Score
		totalWeight += w
		usable++
	}

	if usable == 0 {
		return domain.Aggregate{}, true
	}

	score := weighted / totalWeight
	successful := score >= p.threshold(t) && gate
	return domain.Aggregate{Score: &score, Successful: &successful}, true
}

func (p Policy) threshold(t domain.Target) float64 {
	if t.SuccessThreshold != nil {
		return *t.SuccessThreshold
	}
	if p.DefaultThreshold > 0 {
		return p.DefaultThreshold
	}
	return domain.DefaultSuccessThreshold
}
