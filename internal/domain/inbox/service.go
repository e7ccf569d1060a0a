// Package inbox stores in-app notifications and pushes them to connected
// clients.
package inbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/websocket"
)

type Service struct {
	repo   Repository
	events websocket.EventPublisher
	logger zerolog.Logger
}

// NewService builds the inbox. events may be nil, in which case
// notifications are stored but not pushed.
func NewService(repo Repository, events websocket.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, events: events, logger: logger}
}

// Notify stores a notification for userID and pushes it on the user's
// topic. Failures are logged; the caller's operation has already happened.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, message, kind string) {
	if kind == "" {
		kind = TypeGeneral
	}
	n := &Notification{UserID: userID, Message: message, Type: kind}
	if err := s.repo.Create(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Str("type", kind).Msg("failed to store notification")
		return
	}
	if s.events == nil {
		return
	}
	event, err := websocket.NewEvent(EventNotification, websocket.UserTopic(userID), n)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode notification event")
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to push notification")
	}
}

// List returns a page of the user's notifications and the unread total.
func (s *Service) List(ctx context.Context, f Filter) ([]*Notification, int, int, error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, 0, apperr.Internal(err)
	}
	unread, err := s.repo.UnreadCount(ctx, f.UserID)
	if err != nil {
		return nil, 0, 0, apperr.Internal(err)
	}
	return items, total, unread, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("Notification not found")
		}
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}
