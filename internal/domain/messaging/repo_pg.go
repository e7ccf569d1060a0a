package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== Message Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now().UTC()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.AppointmentID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

func (r *repoPG) List(ctx context.Context, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE appointment_id = $1`, appointmentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT m.id, m.appointment_id, m.sender_id, u.name, m.body, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.appointment_id = $1
		ORDER BY m.created_at, m.id
		LIMIT $2 OFFSET $3`, appointmentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AppointmentID, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
