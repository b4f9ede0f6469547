package lessons

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// ErrNotFound is returned when a lesson ID has no row.
var ErrNotFound = errors.New("lesson not found")

// Repository handles lesson catalog persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a lesson repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a lesson by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Lesson, error) {
	const q = `SELECT id, course_id, title, description, duration_sec, quality_keys, quality_bitrate, thumbnail_key, published, created_at, updated_at
		FROM lessons WHERE id = $1`
	var l models.Lesson
	err := r.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.CourseID, &l.Title, &l.Description, &l.DurationSec,
		&l.QualityKeys, &l.QualityBitrate, &l.ThumbnailKey, &l.Published, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListByCourse returns the published lessons of a course.
func (r *Repository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.Lesson, error) {
	const q = `SELECT id, course_id, title, description, duration_sec, quality_keys, quality_bitrate, thumbnail_key, published, created_at, updated_at
		FROM lessons WHERE course_id = $1 AND published ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Lesson
	for rows.Next() {
		var l models.Lesson
		if err := rows.Scan(&l.ID, &l.CourseID, &l.Title, &l.Description, &l.DurationSec,
			&l.QualityKeys, &l.QualityBitrate, &l.ThumbnailKey, &l.Published, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
