// Package activity keeps the write-once audit trail of user actions and
// serves it to admins.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder appends activity entries. Recording never fails the caller's
// operation.
type Recorder struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewRecorder(repo Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// Record stores (userID, action, details). A nil userID is stored as NULL.
// The write is detached from ctx cancellation so a client hanging up right
// after a state change does not lose the entry.
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, action, details string) {
	e := &Entry{
		ID:        uuid.New(),
		Action:    action,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
	if userID != uuid.Nil {
		uid := userID
		e.UserID = &uid
	}
	if err := r.repo.Insert(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID.String()).
			Str("action", action).
			Msg("record activity")
	}
}

// List returns entries newest first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]*Entry, int, error) {
	return r.repo.List(ctx, f)
}
