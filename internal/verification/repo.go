package verification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres-backed queue.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new pending request. The id is assigned here when the
// caller did not already set one.
func (r *Repository) Enqueue(ctx context.Context, req Request) (Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SubmittedAt == 0 {
		req.SubmittedAt = time.Now().UTC().UnixMilli()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_requests (id, student_id, student_name, class_id, captured_image, lat, lon, submitted_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, req.ID, req.StudentID, req.StudentName, req.ClassID, req.CapturedImage, req.Location.Lat, req.Location.Lon, req.SubmittedAt, string(req.Status))
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// List returns requests in insertion order, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status) ([]Request, error) {
	query := `
		SELECT id, student_id, student_name, class_id, captured_image, lat, lon, submitted_at, status, decided_by, decided_at
		FROM verification_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY submitted_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Get returns a single request by id.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, student_name, class_id, captured_image, lat, lon, submitted_at, status, decided_by, decided_at
		FROM verification_requests WHERE id = $1
	`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// Transition applies the compare-and-set: the UPDATE only matches while the
// row is still pending, so of two racing decisions exactly one sees a row.
func (r *Repository) Transition(ctx context.Context, id string, to Status, decidedBy string) (Request, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = $2, decided_by = $3, decided_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, string(to), decidedBy)
	if err != nil {
		return Request{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Request{}, err
	}
	if n == 0 {
		// Lost the race or bad id; look at the row to tell which.
		if _, getErr := r.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return Request{}, ErrNotFound
		}
		return Request{}, ErrInvalidTransition
	}
	return r.Get(ctx, id)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (Request, error) {
	var (
		req       Request
		status    string
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.StudentID, &req.StudentName, &req.ClassID, &req.CapturedImage,
		&req.Location.Lat, &req.Location.Lon, &req.SubmittedAt, &status, &decidedBy, &decidedAt)
	if err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	if decidedBy.Valid {
		req.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return req, nil
}
