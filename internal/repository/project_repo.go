package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"portfolio-backend/internal/models"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) ListFeatured(ctx context.Context) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, summary, tags, is_featured, created_at
		 FROM projects WHERE is_featured = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Title, &p.Summary, &p.Tags, &p.IsFeatured, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}
