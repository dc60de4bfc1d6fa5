package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ahrav/go-canvas/internal/domain"
)

// SubmitPrompt stores new prompt text (and optionally a model) ahead of a
// generation run and clears any cancellation marker left by an earlier round.
// A target that is generating, or whose evaluation round is still running
// under a workflow, cannot be resubmitted.
func (s *SQLStore) SubmitPrompt(ctx context.Context, id, prompt, model string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, id)
		if err != nil {
			return err
		}
		t := rec.toDomain()
		if t.ResponseStatus == domain.ResponseGenerating ||
			(t.EvalsStatus == domain.EvalsRunning && t.WorkflowID != "") {
			return fmt.Errorf("submit prompt: %w", domain.ErrTargetBusy)
		}
		updates := map[string]any{
			"prompt":                  prompt,
			"generation_cancelled_at": nil,
		}
		if model != "" {
			updates["model"] = model
		}
		return tx.Model(&targetRecord{}).Where("id = ?", id).Updates(updates).Error
	})
}

// RequestCancellation writes the cancellation marker. It only takes effect while
// the response is generating and reports whether a marker was written.
func (s *SQLStore) RequestCancellation(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&targetRecord{}).
		Where("id = ? AND response_status = ? AND generation_cancelled_at IS NULL", id, string(domain.ResponseGenerating)).
		Update("generation_cancelled_at", s.now())
	if res.Error != nil {
		return false, fmt.Errorf("request cancellation %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CancellationRequested reports whether the cancellation marker is set.
func (s *SQLStore) CancellationRequested(ctx context.Context, id string) (bool, error) {
	var rec targetRecord
	err := s.db.WithContext(ctx).Select("id", "generation_cancelled_at").Where("id = ?", id).Take(&rec).Error
	if err != nil {
		return false, fmt.Errorf("read cancellation marker %s: %w", id, err)
	}
	return rec.GenerationCancelledAt != nil, nil
}

// BeginGeneration moves the response to generating under workflowID. It fails
// with ErrTargetBusy while another run generates or evaluates the target.
func (s *SQLStore) BeginGeneration(ctx context.Context, id, workflowID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, id)
		if err != nil {
			return err
		}
		t := rec.toDomain()
		if t.OwnedByOtherRun(workflowID) {
			return fmt.Errorf("begin generation %s: %w: %s", id, domain.ErrTargetBusy, t.WorkflowID)
		}
		next, err := domain.StartGeneration(t.Lifecycle(), workflowID)
		if err != nil {
			return fmt.Errorf("target %s: %w", id, err)
		}
		return tx.Model(&targetRecord{}).Where("id = ?", id).Updates(responseColumns(next)).Error
	})
}

// RecordTransientError leaves a retry marker without changing the status.
func (s *SQLStore) RecordTransientError(ctx context.Context, id, msg string, at time.Time) error {
	return s.transitionResponse(ctx, id, func(cur domain.ResponseState) (domain.ResponseState, error) {
		return domain.MarkTransient(cur, msg, at)
	})
}

// FinalizeResponse writes the consolidated text and completes the response.
// releaseRun clears the active-workflow handle when no evaluation follows.
func (s *SQLStore) FinalizeResponse(ctx context.Context, id, text string, at time.Time, releaseRun bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, id)
		if err != nil {
			return err
		}
		next, err := domain.FinishGeneration(rec.toDomain().Lifecycle(), text, at)
		if err != nil {
			return fmt.Errorf("finalize %s: %w", id, err)
		}
		cols := responseColumns(next)
		if releaseRun {
			cols["workflow_id"] = nil
		}
		return tx.Model(&targetRecord{}).Where("id = ?", id).Updates(cols).Error
	})
}

// FailGeneration records terminal failure and releases the workflow handle.
func (s *SQLStore) FailGeneration(ctx context.Context, id, workflowID, msg string, at time.Time) error {
	return s.transitionResponse(ctx, id, func(cur domain.ResponseState) (domain.ResponseState, error) {
		return domain.AbandonGeneration(cur, workflowID, msg, at)
	})
}

// ReleaseRun clears the active-workflow handle if workflowID still owns it.
func (s *SQLStore) ReleaseRun(ctx context.Context, id, workflowID string) error {
	err := s.db.WithContext(ctx).Model(&targetRecord{}).
		Where("id = ? AND workflow_id = ?", id, workflowID).
		Update("workflow_id", nil).Error
	if err != nil {
		return fmt.Errorf("release run %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) transitionResponse(
	ctx context.Context,
	id string,
	fn func(domain.ResponseState) (domain.ResponseState, error),
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := loadTarget(tx, id)
		if err != nil {
			return err
		}
		next, err := fn(rec.toDomain().Lifecycle())
		if err != nil {
			return fmt.Errorf("target %s: %w", id, err)
		}
		return tx.Model(&targetRecord{}).Where("id = ?", id).Updates(responseColumns(next)).Error
	})
}
