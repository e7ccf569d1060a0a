package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bspoke/health/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO activity_logs (id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.Action, e.Details, e.CreatedAt)
	return err
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	where, args := buildWhere(f)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM activity_logs a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity logs: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `
		SELECT a.id, a.user_id, a.action, a.details, a.created_at,
			u.id, u.name, u.email, u.role
		FROM activity_logs a
		LEFT JOIN users u ON u.id = a.user_id`+where+fmt.Sprintf(`
		ORDER BY a.created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var (
			e                 Entry
			uid               *uuid.UUID
			name, email, role *string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt,
			&uid, &name, &email, &role); err != nil {
			return nil, 0, err
		}
		if uid != nil {
			e.User = &UserRef{ID: *uid, Name: deref(name), Email: deref(email), Role: deref(role)}
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.UserID != nil {
		add("a.user_id = $%d", *f.UserID)
	}
	if f.Action != "" {
		add("a.action = $%d", f.Action)
	}
	if f.From != nil {
		add("a.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.created_at <= $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
