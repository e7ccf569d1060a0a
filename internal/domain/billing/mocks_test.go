package billing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bspoke/health/internal/platform/db"
)

// =========== Mock Repository ===========

type mockRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newMockRepo() *mockRepo {
	return &mockRepo{payments: make(map[uuid.UUID]*Payment)}
}

// seed stores a payment together with the appointment it settles.
func (m *mockRepo) seed(p *Payment) *Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Appointment == nil {
		p.Appointment = &AppointmentInfo{
			ID:            uuid.New(),
			BookingNumber: "BK-TEST",
			Status:        "booked",
			PatientName:   "Pat",
			PatientEmail:  "pat@example.com",
			PatientUserID: uuid.New(),
			DoctorName:    "Dee",
			DoctorUserID:  uuid.New(),
			Speciality:    "Cardiology",
		}
	}
	p.AppointmentID = p.Appointment.ID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.payments[p.ID] = p
	return p
}

func (m *mockRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.AppointmentID == p.AppointmentID {
			return &pgconn.PgError{Code: "23505", ConstraintName: "payments_appointment_id_key"}
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	if p.Appointment != nil {
		a := *p.Appointment
		cp.Appointment = &a
	}
	return &cp, nil
}

func (m *mockRepo) Complete(_ context.Context, id uuid.UUID, method, txn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != StatusPending {
		return db.ErrNotFound
	}
	p.Status = StatusCompleted
	p.PaymentMethod = &method
	p.TransactionID = &txn
	return nil
}

func (m *mockRepo) Refund(_ context.Context, id uuid.UUID, amount float64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != StatusCompleted {
		return db.ErrNotFound
	}
	p.Status = StatusRefunded
	p.RefundAmount = &amount
	p.RefundReason = &reason
	return nil
}

func (m *mockRepo) MarkRefundPending(_ context.Context, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.AppointmentID == appointmentID && p.Status == StatusCompleted {
			p.Status = StatusRefundPending
		}
	}
	return nil
}

func (m *mockRepo) matching(f Filter) []*Payment {
	var out []*Payment
	for _, p := range m.payments {
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && p.CreatedAt.After(*f.To) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Method != "" && (p.PaymentMethod == nil || *p.PaymentMethod != f.Method) {
			continue
		}
		if f.MinAmount != nil && p.Amount < *f.MinAmount {
			continue
		}
		if f.MaxAmount != nil && p.Amount > *f.MaxAmount {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.matching(f)
	less := func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) }
	if f.SortBy == "amount" {
		less = func(i, j int) bool { return items[i].Amount < items[j].Amount }
	}
	if f.SortOrder == "asc" {
		sort.Slice(items, less)
	} else {
		sort.Slice(items, func(i, j int) bool { return less(j, i) })
	}
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

func (m *mockRepo) Summary(_ context.Context, f Filter) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Summary
	for _, p := range m.matching(f) {
		s.TotalAmount += p.Amount
		if p.RefundAmount != nil {
			s.TotalRefunds += *p.RefundAmount
		}
		s.Count++
	}
	s.NetRevenue = s.TotalAmount - s.TotalRefunds
	return &s, nil
}

func (m *mockRepo) FilterOptions(_ context.Context) (*FilterOptions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	methods, statuses := map[string]bool{}, map[string]bool{}
	for _, p := range m.payments {
		if p.PaymentMethod != nil {
			methods[*p.PaymentMethod] = true
		}
		statuses[p.Status] = true
	}
	return &FilterOptions{PaymentMethods: keys(methods), Statuses: keys(statuses)}, nil
}

func keys(set map[string]bool) []string {
	out := []string{}
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *mockRepo) ReportRows(_ context.Context, from, to time.Time) ([]ReportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReportRow
	for _, p := range m.matching(Filter{From: &from, To: &to}) {
		rr := ReportRow{CreatedAt: p.CreatedAt, Amount: p.Amount}
		if p.RefundAmount != nil {
			rr.RefundAmount = *p.RefundAmount
		}
		if p.Appointment != nil {
			rr.Speciality = p.Appointment.Speciality
		}
		out = append(out, rr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =========== Mock Recorder ===========

type mockRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockRecorder) Record(_ context.Context, _ uuid.UUID, action, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action+": "+details)
}

func (m *mockRecorder) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if strings.HasPrefix(a, action+":") {
			return true
		}
	}
	return false
}
