package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"artforge/internal/domain"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository.
type ArtifactRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewArtifactRepository creates an artifact repository backed by PostgreSQL.
func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{pool: pool}
}

// Create inserts a new artifact record.
func (r *ArtifactRepositoryPG) Create(ctx context.Context, artifact *domain.Artifact) error {
	query := `
INSERT INTO artifacts (id, user_id, task_id, type, result_url, thumbnail_url)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		artifact.ID,
		artifact.UserID,
		artifact.TaskID,
		artifact.Type,
		artifact.ResultURL,
		artifact.ThumbnailURL,
	)
	return err
}

// ListByUser returns the user's artifacts, newest first.
func (r *ArtifactRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Artifact, error) {
	query := `
SELECT id, user_id, task_id, type, result_url, thumbnail_url, created_at
FROM artifacts
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;
`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.UserID, &a.TaskID, &a.Type, &a.ResultURL, &a.ThumbnailURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
