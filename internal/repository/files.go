package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

// FilesRepository tracks project evidence files and their derived
// records (extracted video frames).
type FilesRepository interface {
	CreateFile(ctx context.Context, file *domain.ProjectFile) error
	GetFile(ctx context.Context, fileID string) (*domain.ProjectFile, error)
	ListProjectFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error)
}

// MemoryFilesRepository stores file records in memory for local
// development and tests.
type MemoryFilesRepository struct {
	mu    sync.RWMutex
	files map[string]*domain.ProjectFile
}

func NewMemoryFilesRepository() *MemoryFilesRepository {
	return &MemoryFilesRepository{
		files: make(map[string]*domain.ProjectFile),
	}
}

func (r *MemoryFilesRepository) CreateFile(_ context.Context, file *domain.ProjectFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *MemoryFilesRepository) GetFile(_ context.Context, fileID string) (*domain.ProjectFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, ok := r.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *file
	return &clone, nil
}

func (r *MemoryFilesRepository) ListProjectFiles(
	_ context.Context,
	projectID string,
) ([]domain.ProjectFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make([]domain.ProjectFile, 0)
	for _, file := range r.files {
		if file.ProjectID != projectID {
			continue
		}
		files = append(files, *file)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}
