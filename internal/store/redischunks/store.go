// Package redischunks stores streamed response chunks in Redis. Each target's
// in-flight attempt is one hash keyed by chunk index, so clearing an attempt is
// a single DEL and readers never observe chunks from two attempts at once.
package redischunks

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "canvas:chunks:"

// Store is a ChunkStore backed by Redis hashes.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a Store. A positive ttl expires abandoned attempts.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(targetID string) string { return keyPrefix + targetID }

// Clear drops every chunk for a target. Missing keys are not an error.
func (s *Store) Clear(ctx context.Context, targetID string) error {
	if err := s.client.Del(ctx, key(targetID)).Err(); err != nil {
		return fmt.Errorf("clear chunks %s: %w", targetID, err)
	}
	return nil
}

// Append writes one fragment at index and refreshes the key's expiry.
func (s *Store) Append(ctx context.Context, targetID, content string, index int) error {
	k := key(targetID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, strconv.Itoa(index), content)
		if s.ttl > 0 {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append chunk %s#%d: %w", targetID, index, err)
	}
	return nil
}

// Consolidate joins the fragments in ascending numeric index order.
func (s *Store) Consolidate(ctx context.Context, targetID string) (string, error) {
	fields, err := s.client.HGetAll(ctx, key(targetID)).Result()
	if err != nil {
		return "", fmt.Errorf("consolidate chunks %s: %w", targetID, err)
	}

	type chunk struct {
		index   int
		content string
	}
	chunks := make([]chunk, 0, len(fields))
	for field, content := range fields {
		idx, err := strconv.Atoi(field)
		if err != nil {
			return "", fmt.Errorf("consolidate chunks %s: bad index %q: %w", targetID, field, err)
		}
		chunks = append(chunks, chunk{index: idx, content: content})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.content)
	}
	return b.String(), nil
}
