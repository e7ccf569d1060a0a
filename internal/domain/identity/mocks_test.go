package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/platform/db"
)

// -- Mock Repositories --

type mockDoctorRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{items: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.items[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.items {
		if d.UserID == userID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockDoctorRepo) List(_ context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Doctor
	for _, d := range m.items {
		if f.Bookable && (d.Status != DoctorActive || d.KYCStatus != "approved") {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Speciality != "" && !strings.EqualFold(d.Speciality, f.Speciality) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(d.Name+d.Email), strings.ToLower(f.Search)) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
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

func (m *mockDoctorRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return db.ErrNotFound
	}
	d.Status = status
	return nil
}

func (m *mockDoctorRepo) UpdateFees(_ context.Context, id uuid.UUID, consultation, followUp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return db.ErrNotFound
	}
	d.ConsultationFee, d.FollowUpFee = consultation, followUp
	return nil
}

// seed stores a doctor directly, bypassing Create's defaults.
func (m *mockDoctorRepo) seed(d *Doctor) *Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.UserID == uuid.Nil {
		d.UserID = uuid.New()
	}
	cp := *d
	m.items[d.ID] = &cp
	return d
}

type mockPatientRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockPatientRepo) List(_ context.Context, f PatientFilter) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.items {
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name+p.Email), strings.ToLower(f.Search)) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
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

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockPatientRepo) seed(p *Patient) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.UserID == uuid.Nil {
		p.UserID = uuid.New()
	}
	cp := *p
	m.items[p.ID] = &cp
	return p
}

type recordedActivity struct {
	UserID  uuid.UUID
	Action  string
	Details string
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []recordedActivity
}

func (m *mockRecorder) Record(_ context.Context, userID uuid.UUID, action, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, recordedActivity{userID, action, details})
}

func (m *mockRecorder) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}
