package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"portfolio-backend/internal/models"
)

// SubmissionRepo reads contact-form submissions. The assistant never writes
// them; the contact form has its own path outside this service.
type SubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

func (r *SubmissionRepo) ListRecent(ctx context.Context, limit int) ([]*models.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, message, created_at
		 FROM submissions ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*models.Submission
	for rows.Next() {
		s := &models.Submission{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Message, &s.CreatedAt); err != nil {
			return nil, err
		}
		submissions = append(submissions, s)
	}

	return submissions, rows.Err()
}
