package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// SQLChunkStore keeps streamed fragments in the response_chunks table.
// A single executor writes a target's chunks at a time, so Append does not
// check for gaps.
type SQLChunkStore struct {
	db *gorm.DB
}

// NewChunkStore returns a chunk store sharing db with the target store.
func NewChunkStore(db *gorm.DB) *SQLChunkStore {
	return &SQLChunkStore{db: db}
}

// Clear deletes every chunk for a target. Clearing an empty target is a no-op.
func (c *SQLChunkStore) Clear(ctx context.Context, targetID string) error {
	if err := c.db.WithContext(ctx).Where("target_id = ?", targetID).Delete(&chunkRecord{}).Error; err != nil {
		return fmt.Errorf("clear chunks %s: %w", targetID, err)
	}
	return nil
}

// Append stores one fragment at index.
func (c *SQLChunkStore) Append(ctx context.Context, targetID, content string, index int) error {
	rec := chunkRecord{TargetID: targetID, Seq: index, Content: content}
	if err := c.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("append chunk %s#%d: %w", targetID, index, err)
	}
	return nil
}

// Consolidate joins a target's fragments in ascending index order.
func (c *SQLChunkStore) Consolidate(ctx context.Context, targetID string) (string, error) {
	var parts []string
	err := c.db.WithContext(ctx).Model(&chunkRecord{}).
		Where("target_id = ?", targetID).
		Order("seq ASC").
		Pluck("content", &parts).Error
	if err != nil {
		return "", fmt.Errorf("consolidate chunks %s: %w", targetID, err)
	}
	return strings.Join(parts, ""), nil
}
