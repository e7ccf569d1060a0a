package messaging

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/domain/inbox"
	"github.com/bspoke/health/internal/domain/scheduling"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/hipaa"
	"github.com/bspoke/health/internal/platform/websocket"
)

type Appointments interface {
	Appointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message, kind string)
}

type Service struct {
	repo         Repository
	appointments Appointments
	cipher       hipaa.Cipher
	events       websocket.EventPublisher
	notifier     Notifier
	logger       zerolog.Logger
}

// NewService builds the service. events may be nil, in which case messages
// are stored but not pushed.
func NewService(repo Repository, appts Appointments, cipher hipaa.Cipher,
	events websocket.EventPublisher, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		appointments: appts,
		cipher:       cipher,
		events:       events,
		notifier:     notifier,
		logger:       logger,
	}
}

var _ websocket.TopicAuthorizer = (*Service)(nil)

func (s *Service) participantOf(ctx context.Context, userID, appointmentID uuid.UUID) (*scheduling.Appointment, error) {
	a, err := s.appointments.Appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !a.Participant(userID) {
		return nil, apperr.Forbidden("You are not part of this appointment")
	}
	return a, nil
}

// Send stores a message from one participant and pushes it to the other.
func (s *Service) Send(ctx context.Context, sender auth.Identity, appointmentID uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("Message cannot be empty")
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		return nil, apperr.Validationf("Message cannot exceed %d characters", maxBodyRunes)
	}

	a, err := s.participantOf(ctx, sender.UserID, appointmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == scheduling.StatusCancelled {
		return nil, apperr.Validation("This appointment was cancelled; its conversation is read-only")
	}

	sealed, err := s.cipher.Encrypt(body)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("seal message: %w", err))
	}
	m := &Message{AppointmentID: a.ID, SenderID: sender.UserID, Body: sealed}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, apperr.Internal(err)
	}
	m.Body = body
	if sender.UserID == a.DoctorUserID {
		m.SenderName = a.DoctorName
	} else {
		m.SenderName = a.PatientName
	}

	to := a.Counterpart(sender.UserID)
	s.push(ctx, websocket.UserTopic(to), m)
	s.push(ctx, websocket.AppointmentTopic(a.ID), m)
	s.notifier.Notify(ctx, to,
		fmt.Sprintf("New message from %s about appointment %s", m.SenderName, a.BookingNumber),
		inbox.TypeMessage)
	return m, nil
}

func (s *Service) push(ctx context.Context, topic string, m *Message) {
	if s.events == nil {
		return
	}
	evt, err := websocket.NewEvent(EventMessageCreated, topic, m)
	if err == nil {
		err = s.events.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("message push failed")
	}
}

// List returns the conversation, oldest first, to a participant.
func (s *Service) List(ctx context.Context, userID, appointmentID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.participantOf(ctx, userID, appointmentID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, appointmentID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	for _, m := range items {
		m.Body = hipaa.Reveal(s.cipher, m.Body, s.logger.With().Str("message_id", m.ID.String()).Logger())
	}
	return items, total, nil
}

// CanSubscribe lets participants join an appointment's live topic.
func (s *Service) CanSubscribe(ctx context.Context, id auth.Identity, topic string) bool {
	raw, ok := strings.CutPrefix(topic, "appointment:")
	if !ok {
		return false
	}
	appointmentID, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	_, err = s.participantOf(ctx, id.UserID, appointmentID)
	return err == nil
}
