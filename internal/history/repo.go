package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event is one durable redemption record. The ledger only remembers the
// latest date per student; this table keeps every torn ticket for the
// admin history view.
type Event struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	ClassID      string    `json:"class_id"`
	TicketNumber string    `json:"ticket_number"`
	RedeemedAt   time.Time `json:"redeemed_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists redemption events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the events table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS redemption_events (
			id            TEXT PRIMARY KEY,
			student_id    TEXT NOT NULL,
			class_id      TEXT NOT NULL,
			ticket_number TEXT NOT NULL,
			redeemed_at   TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS redemption_events_class_idx
		ON redemption_events (class_id, redeemed_at DESC)
	`)
	return err
}

// Insert writes a new event.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.RedeemedAt.IsZero() {
		evt.RedeemedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO redemption_events (id, student_id, class_id, ticket_number, redeemed_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at
	`, evt.ID, evt.StudentID, evt.ClassID, evt.TicketNumber, evt.RedeemedAt)
	if err := row.Scan(&evt.CreatedAt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ListByClass returns past redemptions for a class, newest first.
func (r *Repository) ListByClass(ctx context.Context, classID string, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, class_id, ticket_number, redeemed_at, created_at
		FROM redemption_events
		WHERE class_id = $1
		ORDER BY redeemed_at DESC
		LIMIT $2 OFFSET $3
	`, classID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.StudentID, &evt.ClassID, &evt.TicketNumber, &evt.RedeemedAt, &evt.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
