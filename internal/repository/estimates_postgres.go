package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresEstimatesRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEstimatesRepository(pool *pgxpool.Pool) *PostgresEstimatesRepository {
	return &PostgresEstimatesRepository{pool: pool}
}

func (r *PostgresEstimatesRepository) GetEstimate(
	ctx context.Context,
	projectID string,
) (*domain.EstimateDocument, int64, error) {
	var (
		raw     []byte
		version int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT document, version
		FROM estimates
		WHERE project_id = $1
	`, projectID).Scan(&raw, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("query estimate: %w", err)
	}

	var document domain.EstimateDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, 0, fmt.Errorf("decode estimate document: %w", err)
	}
	return &document, version, nil
}

func (r *PostgresEstimatesRepository) PutEstimate(
	ctx context.Context,
	projectID string,
	document *domain.EstimateDocument,
	baseVersion int64,
) (int64, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return 0, fmt.Errorf("encode estimate document: %w", err)
	}
	now := time.Now().UTC()

	if baseVersion == 0 {
		command, err := r.pool.Exec(ctx, `
			INSERT INTO estimates (project_id, document, version, updated_at)
			VALUES ($1,$2,1,$3)
			ON CONFLICT (project_id) DO NOTHING
		`, projectID, encoded, now)
		if err != nil {
			return 0, fmt.Errorf("insert estimate: %w", err)
		}
		if command.RowsAffected() == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE estimates
		SET document = $2,
			version = version + 1,
			updated_at = $3
		WHERE project_id = $1 AND version = $4
	`, projectID, encoded, now, baseVersion)
	if err != nil {
		return 0, fmt.Errorf("update estimate: %w", err)
	}
	if command.RowsAffected() == 0 {
		return 0, ErrVersionConflict
	}
	return baseVersion + 1, nil
}
