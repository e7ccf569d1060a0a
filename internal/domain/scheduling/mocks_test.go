package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
)

// -- Mock Repositories --

type mockSlotRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*TimeSlot
}

func newMockSlotRepo() *mockSlotRepo {
	return &mockSlotRepo{items: make(map[uuid.UUID]*TimeSlot)}
}

func (m *mockSlotRepo) CreateMany(_ context.Context, slots []*TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range slots {
		s.ID = uuid.New()
		s.CreatedAt = time.Now()
		cp := *s
		m.items[s.ID] = &cp
	}
	return nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSlotRepo) filter(keep func(*TimeSlot) bool) []*TimeSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TimeSlot
	for _, s := range m.items {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *mockSlotRepo) ListForDate(_ context.Context, doctorID uuid.UUID, date string) ([]*TimeSlot, error) {
	return m.filter(func(s *TimeSlot) bool { return s.DoctorID == doctorID && s.Date == date }), nil
}

func (m *mockSlotRepo) ListFrom(_ context.Context, doctorID uuid.UUID, today, nowHHMM string, freeOnly bool) ([]*TimeSlot, error) {
	return m.filter(func(s *TimeSlot) bool {
		if s.DoctorID != doctorID || (freeOnly && s.IsBooked) {
			return false
		}
		return s.Date > today || (s.Date == today && s.StartTime > nowHHMM)
	}), nil
}

func (m *mockSlotRepo) Claim(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok || s.IsBooked {
		return db.ErrNotFound
	}
	s.IsBooked = true
	return nil
}

func (m *mockSlotRepo) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.items[id]; ok {
		s.IsBooked = false
	}
	return nil
}

func (m *mockSlotRepo) CountUpcoming(_ context.Context, doctorID uuid.UUID, today string) (int, error) {
	return len(m.filter(func(s *TimeSlot) bool {
		return s.DoctorID == doctorID && !s.IsBooked && s.Date >= today
	})), nil
}

type mockAppointmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
	notes map[uuid.UUID]string
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{items: make(map[uuid.UUID]*Appointment), notes: make(map[uuid.UUID]string)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	_, cp.HasNotes = m.notes[id]
	return &cp, nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date+out[i].StartTime > out[j].Date+out[j].StartTime })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *mockAppointmentRepo) Schedule(_ context.Context, doctorID uuid.UUID, date string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.DoctorID == doctorID && a.Date == date && a.Status != StatusCancelled {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *mockAppointmentRepo) Transition(_ context.Context, id uuid.UUID, from, to string, cancelReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != from {
		return db.ErrNotFound
	}
	a.Status = to
	if cancelReason != nil {
		a.CancelReason = cancelReason
	}
	return nil
}

func (m *mockAppointmentRepo) SetNotes(_ context.Context, id uuid.UUID, sealed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return db.ErrNotFound
	}
	m.notes[id] = sealed
	return nil
}

func (m *mockAppointmentRepo) Notes(_ context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return "", db.ErrNotFound
	}
	return m.notes[id], nil
}

func (m *mockAppointmentRepo) Stats(_ context.Context, doctorID uuid.UUID) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &Stats{}
	patients := map[uuid.UUID]bool{}
	for _, a := range m.items {
		if a.DoctorID != doctorID {
			continue
		}
		st.TotalAppointments++
		patients[a.PatientID] = true
		switch a.Status {
		case StatusBooked:
			st.BookedAppointments++
		case StatusCompleted:
			st.CompletedAppointments++
		case StatusCancelled:
			st.CancelledAppointments++
		}
	}
	st.TotalPatients = len(patients)
	return st, nil
}

// -- Collaborators --

type mockProfiles struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]*identity.Doctor
	patients map[uuid.UUID]*identity.Patient
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{
		doctors:  make(map[uuid.UUID]*identity.Doctor),
		patients: make(map[uuid.UUID]*identity.Patient),
	}
}

func (m *mockProfiles) addDoctor(name string) *identity.Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &identity.Doctor{
		ID: uuid.New(), UserID: uuid.New(), Name: name, Speciality: "Cardiology",
		Status: identity.DoctorActive, KYCStatus: "approved", ConsultationFee: 800,
	}
	m.doctors[d.ID] = d
	return d
}

func (m *mockProfiles) addPatient(name string) *identity.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &identity.Patient{ID: uuid.New(), UserID: uuid.New(), Name: name}
	m.patients[p.ID] = p
	return p
}

func (m *mockProfiles) DoctorByUser(_ context.Context, userID uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.doctors {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Doctor profile not found")
}

func (m *mockProfiles) PatientByUser(_ context.Context, userID uuid.UUID) (*identity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Patient profile not found")
}

func (m *mockProfiles) GetDoctor(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, apperr.NotFound("Doctor not found")
	}
	cp := *d
	return &cp, nil
}

func (m *mockProfiles) SetFees(_ context.Context, doctorID uuid.UUID, consultation, followUp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if consultation < 0 || followUp < 0 {
		return apperr.Validation("Fees must be non-negative numbers")
	}
	d, ok := m.doctors[doctorID]
	if !ok {
		return apperr.NotFound("Doctor not found")
	}
	d.ConsultationFee, d.FollowUpFee = consultation, followUp
	return nil
}

type mockPayments struct {
	mu      sync.Mutex
	pending map[uuid.UUID]float64
	status  map[uuid.UUID]string
}

func newMockPayments() *mockPayments {
	return &mockPayments{pending: make(map[uuid.UUID]float64), status: make(map[uuid.UUID]string)}
}

func (m *mockPayments) CreatePending(_ context.Context, appointmentID uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[appointmentID] = amount
	m.status[appointmentID] = "pending"
	return nil
}

func (m *mockPayments) MarkRefundPending(_ context.Context, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status[appointmentID] == "completed" {
		m.status[appointmentID] = "refund_pending"
	}
	return nil
}

type sequenceNumbers struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceNumbers) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("BK-%04d", s.n)
}

type notice struct {
	UserID  uuid.UUID
	Message string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (m *mockNotifier) Notify(_ context.Context, userID uuid.UUID, message, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notice{userID, message})
}

func (m *mockNotifier) to(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

type mockRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockRecorder) Record(_ context.Context, _ uuid.UUID, action, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func (m *mockRecorder) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}
