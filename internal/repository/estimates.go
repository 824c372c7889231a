package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

var ErrVersionConflict = errors.New("estimate version conflict")

// EstimatesRepository stores the single live estimate document per
// project. Writes carry the base version the caller read; a stale base is
// rejected with ErrVersionConflict instead of silently overwriting.
type EstimatesRepository interface {
	GetEstimate(ctx context.Context, projectID string) (*domain.EstimateDocument, int64, error)
	PutEstimate(ctx context.Context, projectID string, document *domain.EstimateDocument, baseVersion int64) (int64, error)
}

type estimateRecord struct {
	document  *domain.EstimateDocument
	version   int64
	updatedAt time.Time
}

// MemoryEstimatesRepository stores estimate documents in memory for local
// development and tests.
type MemoryEstimatesRepository struct {
	mu        sync.RWMutex
	estimates map[string]estimateRecord
}

func NewMemoryEstimatesRepository() *MemoryEstimatesRepository {
	return &MemoryEstimatesRepository{
		estimates: make(map[string]estimateRecord),
	}
}

func (r *MemoryEstimatesRepository) GetEstimate(
	_ context.Context,
	projectID string,
) (*domain.EstimateDocument, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.estimates[projectID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return record.document.Clone(), record.version, nil
}

func (r *MemoryEstimatesRepository) PutEstimate(
	_ context.Context,
	projectID string,
	document *domain.EstimateDocument,
	baseVersion int64,
) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.estimates[projectID]
	currentVersion := int64(0)
	if exists {
		currentVersion = record.version
	}
	if baseVersion != currentVersion {
		return 0, ErrVersionConflict
	}

	nextVersion := currentVersion + 1
	r.estimates[projectID] = estimateRecord{
		document:  document.Clone(),
		version:   nextVersion,
		updatedAt: time.Now().UTC(),
	}
	return nextVersion, nil
}
