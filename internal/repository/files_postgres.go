package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresFilesRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresFilesRepository(pool *pgxpool.Pool) *PostgresFilesRepository {
	return &PostgresFilesRepository{pool: pool}
}

func (r *PostgresFilesRepository) CreateFile(ctx context.Context, file *domain.ProjectFile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO project_files (
			id, project_id, name, mime_type, storage_path, description, parent_file_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		file.ID,
		file.ProjectID,
		file.Name,
		file.MimeType,
		file.StoragePath,
		file.Description,
		file.ParentFileID,
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project file: %w", err)
	}
	return nil
}

func (r *PostgresFilesRepository) GetFile(ctx context.Context, fileID string) (*domain.ProjectFile, error) {
	var file domain.ProjectFile
	err := r.pool.QueryRow(ctx, `
		SELECT id, project_id, name, mime_type, storage_path, description, parent_file_id, created_at
		FROM project_files
		WHERE id = $1
	`, fileID).Scan(
		&file.ID,
		&file.ProjectID,
		&file.Name,
		&file.MimeType,
		&file.StoragePath,
		&file.Description,
		&file.ParentFileID,
		&file.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query project file: %w", err)
	}
	return &file, nil
}

func (r *PostgresFilesRepository) ListProjectFiles(
	ctx context.Context,
	projectID string,
) ([]domain.ProjectFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, name, mime_type, storage_path, description, parent_file_id, created_at
		FROM project_files
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	files := make([]domain.ProjectFile, 0)
	for rows.Next() {
		var file domain.ProjectFile
		if err := rows.Scan(
			&file.ID,
			&file.ProjectID,
			&file.Name,
			&file.MimeType,
			&file.StoragePath,
			&file.Description,
			&file.ParentFileID,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, file)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate project files: %w", rows.Err())
	}
	return files, nil
}
