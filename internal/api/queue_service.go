package api

import (
	"context"

	"dispatch/internal/store"
)

// QueueReader abstracts the store interactions needed for read-only queue
// queries.
type QueueReader interface {
	ListItems(ctx context.Context, statuses ...store.ItemStatus) ([]*store.WorkItem, error)
	ItemsByAgent(ctx context.Context, agentID string) ([]*store.WorkItem, error)
	GetItem(ctx context.Context, id int64) (*store.WorkItem, error)
	Stats(ctx context.Context) (map[store.ItemStatus]int, error)
}

// QueueService exposes read-only work item queries returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns work items filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...store.ItemStatus) ([]WorkItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	items, err := s.store.ListItems(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromWorkItems(items), nil
}

// AssignedTo returns the non-terminal items held by one agent, oldest first.
func (s *QueueService) AssignedTo(ctx context.Context, agentID string) ([]WorkItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	items, err := s.store.ItemsByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return FromWorkItems(items), nil
}

// Describe fetches a single work item; nil when missing.
func (s *QueueService) Describe(ctx context.Context, id int64) (*WorkItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.GetItem(ctx, id)
	if err != nil || item == nil {
		return nil, err
	}
	dto := FromWorkItem(item)
	return &dto, nil
}

// Stats returns work item counts keyed by status string, with zero counts
// filled in.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}
