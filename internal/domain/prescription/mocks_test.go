package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/domain/scheduling"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/db"
)

// =========== Mock Repository ===========

type mockRepo struct {
	mu    sync.Mutex
	byApp map[uuid.UUID]*Prescription
	meds  map[uuid.UUID][]Medication
	// owners maps appointment ids to (doctor, patient) profile ids for List.
	owners map[uuid.UUID][2]uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		byApp:  make(map[uuid.UUID]*Prescription),
		meds:   make(map[uuid.UUID][]Medication),
		owners: make(map[uuid.UUID][2]uuid.UUID),
	}
}

func (m *mockRepo) Upsert(_ context.Context, p *Prescription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.byApp[p.AppointmentID]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = now
		cp := *p
		m.byApp[p.AppointmentID] = &cp
		return false, nil
	}
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.byApp[p.AppointmentID] = &cp
	m.owners[p.AppointmentID] = [2]uuid.UUID{p.Doctor.ID, p.Patient.ID}
	return true, nil
}

func (m *mockRepo) ReplaceMedications(_ context.Context, prescriptionID uuid.UUID, meds []Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range meds {
		meds[i].ID = uuid.New()
		meds[i].PrescriptionID = prescriptionID
	}
	m.meds[prescriptionID] = append([]Medication(nil), meds...)
	return nil
}

func (m *mockRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byApp[appointmentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	cp.Medications = append([]Medication{}, m.meds[p.ID]...)
	cp.MedicationCount = len(cp.Medications)
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Prescription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*Prescription
	for appID, p := range m.byApp {
		owner := m.owners[appID]
		if f.DoctorID != nil && owner[0] != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && owner[1] != *f.PatientID {
			continue
		}
		cp := *p
		cp.MedicationCount = len(m.meds[p.ID])
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return items[f.Offset:end], total, nil
}

// =========== Mock Appointments ===========

type mockAppointments struct {
	mu    sync.Mutex
	items map[uuid.UUID]*scheduling.Appointment
}

func newMockAppointments() *mockAppointments {
	return &mockAppointments{items: make(map[uuid.UUID]*scheduling.Appointment)}
}

func (m *mockAppointments) add(doc *identity.Doctor, patient *identity.Patient) *scheduling.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &scheduling.Appointment{
		ID:            uuid.New(),
		BookingNumber: "BK-" + uuid.NewString()[:6],
		PatientID:     patient.ID,
		DoctorID:      doc.ID,
		Status:        scheduling.StatusBooked,
		Date:          "2026-03-11",
		StartTime:     "09:00",
		EndTime:       "09:30",
		DoctorName:    doc.Name,
		PatientName:   patient.Name,
		DoctorUserID:  doc.UserID,
		PatientUserID: patient.UserID,
	}
	m.items[a.ID] = a
	return a
}

func (m *mockAppointments) Appointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("Appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointments) DoctorAppointment(ctx context.Context, doctorUserID, id uuid.UUID) (*scheduling.Appointment, error) {
	a, err := m.Appointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorUserID != doctorUserID {
		return nil, apperr.Forbidden("You can only manage your own appointments")
	}
	return a, nil
}

func (m *mockAppointments) MarkCompleted(_ context.Context, a *scheduling.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch a.Status {
	case scheduling.StatusCompleted:
		return nil
	case scheduling.StatusCancelled:
		return apperr.Validation("Cannot complete a cancelled appointment")
	}
	m.items[a.ID].Status = scheduling.StatusCompleted
	a.Status = scheduling.StatusCompleted
	return nil
}

// =========== Mock Profiles ===========

type mockProfiles struct {
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
	d := &identity.Doctor{ID: uuid.New(), UserID: uuid.New(), Name: name}
	m.doctors[d.UserID] = d
	return d
}

func (m *mockProfiles) addPatient(name string) *identity.Patient {
	p := &identity.Patient{ID: uuid.New(), UserID: uuid.New(), Name: name}
	m.patients[p.UserID] = p
	return p
}

func (m *mockProfiles) DoctorByUser(_ context.Context, userID uuid.UUID) (*identity.Doctor, error) {
	d, ok := m.doctors[userID]
	if !ok {
		return nil, apperr.NotFound("Doctor profile not found")
	}
	return d, nil
}

func (m *mockProfiles) PatientByUser(_ context.Context, userID uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[userID]
	if !ok {
		return nil, apperr.NotFound("Patient profile not found")
	}
	return p, nil
}

// =========== Mock Notifier / Recorder ===========

type notice struct {
	userID  uuid.UUID
	message string
	kind    string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (m *mockNotifier) Notify(_ context.Context, userID uuid.UUID, message, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, notice{userID, message, kind})
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
