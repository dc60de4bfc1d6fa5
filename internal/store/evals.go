package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ahrav/go-canvas/internal/domain"
)

// AggregateFunc computes a round's outcome. ready is false while any
// criterion-bearing item is still unsettled.
type AggregateFunc func(t domain.Target, items []domain.EvalItem) (agg domain.Aggregate, ready bool)

// ListEvals returns a target's rubric in display order.
func (s *SQLStore) ListEvals(ctx context.Context, targetID string) ([]domain.EvalItem, error) {
	return loadEvals(s.db.WithContext(ctx), targetID)
}

// GetEval loads one rubric item.
func (s *SQLStore) GetEval(ctx context.Context, id string) (domain.EvalItem, error) {
	rec, err := loadEval(s.db.WithContext(ctx), id)
	if err != nil {
		return domain.EvalItem{}, err
	}
	return rec.toDomain(), nil
}

// BeginEvaluation opens an evaluation round for workflowID and returns the IDs
// of the criterion-bearing items to judge, in display order.
//
// Items without criteria are auto-passed immediately. When no item carries a
// criterion the round is closed on the spot and the workflow handle released.
// Criterion-bearing items move to running with their previous results kept.
func (s *SQLStore) BeginEvaluation(ctx context.Context, targetID, workflowID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, targetID)
		if err != nil {
			return err
		}
		t := rec.toDomain()
		if t.ResponseStatus != domain.ResponseComplete {
			return fmt.Errorf("begin evaluation %s (%s): %w", targetID, t.ResponseStatus, domain.ErrResponseNotReady)
		}
		if t.OwnedByOtherRun(workflowID) {
			return fmt.Errorf("begin evaluation %s: %w: %s", targetID, domain.ErrTargetBusy, t.WorkflowID)
		}

		items, err := loadEvals(tx, targetID)
		if err != nil {
			return err
		}
		now := s.now()
		ids = ids[:0]
		for _, item := range items {
			var next domain.EvalState
			if item.HasCriteria() {
				next = domain.BeginJudging(item.State())
				ids = append(ids, item.ID)
			} else {
				next = domain.AutoPass(item.Kind, now)
			}
			if err := tx.Model(&evalRecord{}).Where("id = ?", item.ID).Updates(evalColumns(next)).Error; err != nil {
				return fmt.Errorf("begin eval %s: %w", item.ID, err)
			}
		}

		cols := map[string]any{
			"aggregate_score":    nil,
			"is_successful":      nil,
			"evals_completed_at": nil,
		}
		if len(ids) == 0 {
			cols["evals_status"] = string(domain.EvalsComplete)
			cols["evals_completed_at"] = now
			cols["workflow_id"] = nil
		} else {
			cols["evals_status"] = string(domain.EvalsRunning)
			cols["workflow_id"] = workflowID
		}
		return tx.Model(&targetRecord{}).Where("id = ?", targetID).Updates(cols).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// StartJudging marks an item running while keeping its last result visible.
func (s *SQLStore) StartJudging(ctx context.Context, evalID string) (domain.EvalItem, error) {
	return s.transitionEval(ctx, evalID, func(item domain.EvalItem) (domain.EvalState, error) {
		return domain.BeginJudging(item.State()), nil
	})
}

// CompleteEval overwrites a running item's score and explanation with a fresh
// result. A result arriving for an item that already settled is discarded and
// reported with settled=false.
func (s *SQLStore) CompleteEval(ctx context.Context, evalID string, res domain.EvalResult) (item domain.EvalItem, settled bool, err error) {
	item, err = s.transitionEval(ctx, evalID, func(cur domain.EvalItem) (domain.EvalState, error) {
		if cur.Status != domain.EvalRunning {
			return nil, nil
		}
		settled = true
		return domain.JudgeSucceeded(res), nil
	})
	return item, settled, err
}

// RecordEvalAttemptError notes a failed judge attempt that will be retried. The
// item stays running.
func (s *SQLStore) RecordEvalAttemptError(ctx context.Context, evalID, msg string) error {
	err := s.db.WithContext(ctx).Model(&evalRecord{}).
		Where("id = ? AND status = ?", evalID, string(domain.EvalRunning)).
		Update("error", msg).Error
	if err != nil {
		return fmt.Errorf("record eval attempt error %s: %w", evalID, err)
	}
	return nil
}

// FailEvalIfRunning settles a running item after a failed judgment, keeping a
// prior score when one exists. Items that already settled are left alone and
// reported with settled=false.
func (s *SQLStore) FailEvalIfRunning(ctx context.Context, evalID, msg string, at time.Time) (item domain.EvalItem, settled bool, err error) {
	item, err = s.transitionEval(ctx, evalID, func(cur domain.EvalItem) (domain.EvalState, error) {
		if cur.Status != domain.EvalRunning {
			return nil, nil
		}
		settled = true
		return domain.JudgeFailed(cur.State(), msg, at), nil
	})
	return item, settled, err
}

// transitionEval applies fn to an item inside a transaction. A nil state from fn
// leaves the row unchanged. The returned item reflects the stored row.
func (s *SQLStore) transitionEval(
	ctx context.Context,
	evalID string,
	fn func(domain.EvalItem) (domain.EvalState, error),
) (domain.EvalItem, error) {
	var out domain.EvalItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadEval(tx, evalID)
		if err != nil {
			return err
		}
		next, err := fn(rec.toDomain())
		if err != nil {
			return fmt.Errorf("eval %s: %w", evalID, err)
		}
		if next != nil {
			if err := tx.Model(&evalRecord{}).Where("id = ?", evalID).Updates(evalColumns(next)).Error; err != nil {
				return fmt.Errorf("update eval %s: %w", evalID, err)
			}
			if rec, err = loadEval(tx, evalID); err != nil {
				return err
			}
		}
		out = rec.toDomain()
		return nil
	})
	return out, err
}

// AggregateIfSettled closes the target's evaluation round when every
// criterion-bearing item has settled. The write is a compare-and-set on
// evals_status = running: of any number of concurrent callers at most one
// observes applied=true for a round. The active-workflow handle is released
// only while workflowID still holds it.
func (s *SQLStore) AggregateIfSettled(
	ctx context.Context,
	targetID, workflowID string,
	compute AggregateFunc,
) (agg domain.Aggregate, applied bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, targetID)
		if err != nil {
			return err
		}
		if domain.EvalsStatus(rec.EvalsStatus) != domain.EvalsRunning {
			return nil
		}
		items, err := loadEvals(tx, targetID)
		if err != nil {
			return err
		}
		result, ready := compute(rec.toDomain(), items)
		if !ready {
			return nil
		}

		res := tx.Model(&targetRecord{}).
			Where("id = ? AND evals_status = ?", targetID, string(domain.EvalsRunning)).
			Updates(map[string]any{
				"evals_status":       string(domain.EvalsComplete),
				"evals_completed_at": s.now(),
				"aggregate_score":    result.Score,
				"is_successful":      result.Successful,
				"workflow_id":        gorm.Expr("CASE WHEN workflow_id = ? THEN NULL ELSE workflow_id END", workflowID),
			})
		if res.Error != nil {
			return fmt.Errorf("aggregate %s: %w", targetID, res.Error)
		}
		if res.RowsAffected == 1 {
			agg, applied = result, true
		}
		return nil
	})
	if err != nil {
		return domain.Aggregate{}, false, err
	}
	return agg, applied, nil
}

func loadEval(tx *gorm.DB, id string) (evalRecord, error) {
	var rec evalRecord
	err := tx.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return evalRecord{}, fmt.Errorf("eval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return evalRecord{}, fmt.Errorf("load eval %s: %w", id, err)
	}
	return rec, nil
}
