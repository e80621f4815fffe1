package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"portfolio-backend/internal/models"
)

type FAQRepo struct {
	pool *pgxpool.Pool
}

func NewFAQRepo(pool *pgxpool.Pool) *FAQRepo {
	return &FAQRepo{pool: pool}
}

func (r *FAQRepo) ListActive(ctx context.Context) ([]*models.FAQEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question, answer, is_active
		 FROM faq_entries WHERE is_active = TRUE ORDER BY sort_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.FAQEntry
	for rows.Next() {
		e := &models.FAQEntry{}
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.IsActive); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
