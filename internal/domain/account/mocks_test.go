package account

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/platform/db"
)

// -- Mock Repositories --

type mockUserRepo struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*User
	failUpdates error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{items: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) copyOf(u *User) *User {
	cp := *u
	return &cp
}

func (m *mockUserRepo) byEmail(email string) *User {
	for _, u := range m.items {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byEmail(u.Email) != nil {
		return errors.New("duplicate email")
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.items[u.ID] = m.copyOf(u)
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return m.copyOf(u), nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byEmail(email)
	if u == nil {
		return nil, db.ErrNotFound
	}
	return m.copyOf(u), nil
}

func (m *mockUserRepo) EmailTaken(_ context.Context, email string, exclude uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byEmail(email)
	return u != nil && u.ID != exclude, nil
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[u.ID]
	if !ok {
		return db.ErrNotFound
	}
	cur.Name, cur.Email, cur.Phone, cur.Address, cur.EmailVerified = u.Name, u.Email, u.Phone, u.Address, u.EmailVerified
	return nil
}

func (m *mockUserRepo) SetLoginFailures(_ context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.items[id]
	u.FailedLoginAttempts, u.AccountLockedUntil = attempts, lockedUntil
	return nil
}

func (m *mockUserRepo) SetOTP(_ context.Context, id uuid.UUID, code string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.items[id]
	u.OTP, u.OTPExpires = &code, &expires
	return nil
}

func (m *mockUserRepo) ConsumeOTP(_ context.Context, email, code string, now time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byEmail(email)
	if u == nil || u.OTP == nil || *u.OTP != code || u.OTPExpires == nil || !u.OTPExpires.After(now) {
		return nil, db.ErrNotFound
	}
	u.OTP, u.OTPExpires = nil, nil
	u.EmailVerified = true
	return m.copyOf(u), nil
}

func (m *mockUserRepo) SetResetToken(_ context.Context, id uuid.UUID, token string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.items[id]
	u.ResetToken, u.ResetTokenExpires = &token, &expires
	return nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates != nil {
		return m.failUpdates
	}
	u, ok := m.items[id]
	if !ok {
		return db.ErrNotFound
	}
	u.PasswordHash = hash
	u.ResetToken, u.ResetTokenExpires = nil, nil
	return nil
}

// stored returns the live row for assertions.
func (m *mockUserRepo) stored(email string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail(email)
}

type mockHistoryRepo struct {
	mu    sync.Mutex
	items []*HistoryEntry
	seq   int
}

func newMockHistoryRepo() *mockHistoryRepo { return &mockHistoryRepo{} }

func (m *mockHistoryRepo) Append(_ context.Context, e *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	// entries appended in the same instant still sort by insertion order
	m.seq++
	e.CreatedAt = e.CreatedAt.Add(time.Duration(m.seq) * time.Nanosecond)
	m.items = append(m.items, e)
	return nil
}

func (m *mockHistoryRepo) Recent(_ context.Context, userID uuid.UUID, n int) ([]*HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HistoryEntry
	for _, e := range m.items {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *mockHistoryRepo) count(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.items {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

type mockDeviceRepo struct {
	mu    sync.Mutex
	items map[string]*TrustedDevice
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{items: make(map[string]*TrustedDevice)}
}

func (m *mockDeviceRepo) Get(_ context.Context, deviceID string) (*TrustedDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[deviceID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepo) Upsert(_ context.Context, d *TrustedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.items[d.DeviceID]; ok {
		cur.UserID = d.UserID
		d.CreatedAt = cur.CreatedAt
		return nil
	}
	d.CreatedAt = time.Now()
	cp := *d
	m.items[d.DeviceID] = &cp
	return nil
}

func (m *mockDeviceRepo) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, deviceID)
	return nil
}

type mockProfileStore struct {
	doctors  map[uuid.UUID]uuid.UUID
	patients map[uuid.UUID]uuid.UUID
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{
		doctors:  make(map[uuid.UUID]uuid.UUID),
		patients: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockProfileStore) CreateDoctor(_ context.Context, userID uuid.UUID, _ DoctorSignup) error {
	m.doctors[userID] = uuid.New()
	return nil
}

func (m *mockProfileStore) CreatePatient(_ context.Context, userID uuid.UUID) error {
	m.patients[userID] = uuid.New()
	return nil
}

func (m *mockProfileStore) DoctorIDForUser(_ context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	id, ok := m.doctors[userID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *mockProfileStore) RoleProfile(_ context.Context, userID uuid.UUID, role string) (interface{}, error) {
	if id, ok := m.doctors[userID]; ok {
		return map[string]string{"id": id.String(), "role": role}, nil
	}
	if id, ok := m.patients[userID]; ok {
		return map[string]string{"id": id.String(), "role": role}, nil
	}
	return nil, db.ErrNotFound
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

func (m *mockRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

func (m *mockRecorder) has(action string) bool {
	for _, a := range m.actions() {
		if a == action {
			return true
		}
	}
	return false
}
