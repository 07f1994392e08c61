package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medibook/medibook/internal/domain/catalog"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/notification"
	"github.com/medibook/medibook/pkg/pagination"
)

// -- Mock Repositories --

type mockApptRepo struct {
	mu        sync.Mutex
	store     map[uuid.UUID]*Appointment
	phones    map[uuid.UUID]string
	doctors   map[uuid.UUID]bool
	createErr error
	listErr   error
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{
		store:   make(map[uuid.UUID]*Appointment),
		phones:  make(map[uuid.UUID]string),
		doctors: make(map[uuid.UUID]bool),
	}
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if !m.doctors[a.DoctorID] {
		return ErrUnknownDoctor
	}
	iv := Interval{Start: a.StartTime, End: a.EndTime}
	for _, o := range m.store {
		if o.DoctorID == a.DoctorID && o.AppointmentDate == a.AppointmentDate && o.Status != StatusCancelled &&
			iv.Overlaps(Interval{Start: o.StartTime, End: o.EndTime}) {
			return ErrSlotTaken
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) view(a *Appointment) *AppointmentView {
	return &AppointmentView{
		Appointment:  *a,
		PatientName:  "Asha",
		PatientPhone: m.phones[a.PatientID],
		DoctorName:   "Dr. Mehta",
		ServiceName:  "General Consultation",
		LocationName: "Civil Lines",
	}
}

func (m *mockApptRepo) GetView(_ context.Context, id uuid.UUID) (*AppointmentView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return m.view(a), nil
}

func (m *mockApptRepo) List(_ context.Context, scope Scope, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []*AppointmentView
	for _, a := range m.store {
		if !scope.Allows(a) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Date != "" && a.AppointmentDate != f.Date {
			continue
		}
		if f.DateFrom != "" && a.AppointmentDate < f.DateFrom {
			continue
		}
		if f.DateTo != "" && a.AppointmentDate > f.DateTo {
			continue
		}
		out = append(out, m.view(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AppointmentDate != out[j].AppointmentDate {
			return out[i].AppointmentDate < out[j].AppointmentDate
		}
		return out[i].StartTime < out[j].StartTime
	})
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok || a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.CancellationReason = reason
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) SetOrderID(_ context.Context, id uuid.UUID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok || a.Status != StatusPending || a.PaymentStatus == PaymentPaid {
		return ErrNotPayable
	}
	a.RazorpayOrderID = &orderID
	return nil
}

func (m *mockApptRepo) ConfirmPayment(_ context.Context, orderID, paymentID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.store {
		if a.RazorpayOrderID != nil && *a.RazorpayOrderID == orderID &&
			(a.Status == StatusPending || a.Status == StatusConfirmed) {
			a.Status = StatusConfirmed
			a.PaymentStatus = PaymentPaid
			a.RazorpayPaymentID = &paymentID
			return a.ID, nil
		}
	}
	return uuid.Nil, ErrNotPayable
}

func (m *mockApptRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

type mockServices struct {
	store map[uuid.UUID]*catalog.Service
}

func (m *mockServices) GetService(_ context.Context, id uuid.UUID) (*catalog.Service, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("service not found")
	}
	return s, nil
}

type sentMessage struct {
	event notification.Event
	to    string
	data  notification.Data
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingNotifier) Dispatch(_ context.Context, event notification.Event, to string, data notification.Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{event: event, to: to, data: data})
}

func (r *recordingNotifier) events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Event, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.event
	}
	return out
}

// -- Fixture --

type testEnv struct {
	svc      *Service
	appts    *mockApptRepo
	slots    *fakeSlotSource
	notifier *recordingNotifier
	doctorID uuid.UUID
	service  *catalog.Service
	tier1    catalog.Location
	tier2    catalog.Location
	patient  *auth.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		appts:    newMockApptRepo(),
		slots:    &fakeSlotSource{},
		notifier: &recordingNotifier{},
		doctorID: uuid.New(),
		service: &catalog.Service{
			ID: uuid.New(), Name: "General Consultation", Category: "consultation", DurationMinutes: 30,
			Tier1Price: decimal.NewFromInt(1000), Tier2Price: decimal.NewFromInt(700),
			OnlineAvailable: true, OfflineAvailable: true, Active: true,
		},
		tier1:   catalog.Location{ID: uuid.New(), Name: "Andheri", City: "Mumbai", Tier: catalog.Tier1},
		tier2:   catalog.Location{ID: uuid.New(), Name: "Civil Lines", City: "Nagpur", Tier: catalog.Tier2},
		patient: &auth.Caller{UserID: uuid.New(), Role: auth.Patient},
	}
	env.appts.doctors[env.doctorID] = true
	env.appts.phones[env.patient.UserID] = "+919800000001"

	cat, err := catalog.NewCatalogFrom([]catalog.Location{env.tier1, env.tier2})
	if err != nil {
		t.Fatal(err)
	}
	env.svc = NewService(Deps{
		Appointments: env.appts,
		Availability: env.slots,
		Locations:    cat,
		Services:     &mockServices{store: map[uuid.UUID]*catalog.Service{env.service.ID: env.service}},
		Notifier:     env.notifier,
		Logger:       zerolog.Nop(),
		Location:     time.UTC,
	})
	env.svc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return env
}

func (env *testEnv) request(loc catalog.Location, start string) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		DoctorID:        env.doctorID.String(),
		ServiceID:       env.service.ID.String(),
		LocationID:      loc.ID.String(),
		AppointmentDate: testDate,
		StartTime:       start,
		Mode:            "offline",
	}
}

// -- CreateAppointment --

func TestCreateAppointment_TieredPricePendingState(t *testing.T) {
	env := newTestEnv(t)

	appt, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier2, "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !appt.Amount.Equal(decimal.NewFromInt(700)) {
		t.Errorf("expected amount 700 at a tier 2 location, got %s", appt.Amount)
	}
	if appt.Status != StatusPending || appt.PaymentStatus != PaymentPending {
		t.Errorf("expected pending/pending, got %s/%s", appt.Status, appt.PaymentStatus)
	}
	if appt.PatientID != env.patient.UserID {
		t.Error("patient must be the caller")
	}
	if appt.EndTime.String() != "10:30" {
		t.Errorf("expected computed end 10:30, got %s", appt.EndTime)
	}

	appt1, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "11:00"))
	if err != nil || !appt1.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected tier 1 price 1000, got %v err=%v", appt1, err)
	}
}

func TestCreateAppointment_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreateAppointment(context.Background(), nil, env.request(env.tier1, "10:00"))
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if env.appts.count() != 0 {
		t.Error("no appointment may be stored for an anonymous caller")
	}
}

func TestCreateAppointment_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	base := env.request(env.tier1, "10:00")
	cases := map[string]func(r *CreateAppointmentRequest){
		"doctorId":        func(r *CreateAppointmentRequest) { r.DoctorID = "" },
		"serviceId":       func(r *CreateAppointmentRequest) { r.ServiceID = "" },
		"locationId":      func(r *CreateAppointmentRequest) { r.LocationID = "" },
		"appointmentDate": func(r *CreateAppointmentRequest) { r.AppointmentDate = "" },
		"startTime":       func(r *CreateAppointmentRequest) { r.StartTime = "" },
		"mode":            func(r *CreateAppointmentRequest) { r.Mode = "" },
		"bad mode":        func(r *CreateAppointmentRequest) { r.Mode = "drive_through" },
		"bad date":        func(r *CreateAppointmentRequest) { r.AppointmentDate = "10/03/2025" },
		"bad start":       func(r *CreateAppointmentRequest) { r.StartTime = "ten" },
		"past date":       func(r *CreateAppointmentRequest) { r.AppointmentDate = "2025-02-01" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := env.svc.CreateAppointment(context.Background(), env.patient, req)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if env.appts.count() != 0 {
		t.Error("invalid requests must not store anything")
	}
}

func TestCreateAppointment_ValidationMessageUsesJSONNames(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(env.tier1, "10:00")
	req.DoctorID = ""
	_, err := env.svc.CreateAppointment(context.Background(), env.patient, req)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Message != "doctorId is required" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestCreateAppointment_InvalidReferences(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(env.tier1, "10:00")
	req.ServiceID = uuid.NewString()
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("unknown service: expected invalid reference, got %v", err)
	}

	req = env.request(env.tier1, "10:00")
	req.LocationID = uuid.NewString()
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("unknown location: expected invalid reference, got %v", err)
	}

	req = env.request(env.tier1, "10:00")
	req.DoctorID = uuid.NewString()
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("unknown doctor: expected invalid reference, got %v", err)
	}
}

func TestCreateAppointment_ModeNotOffered(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(env.tier1, "10:00")
	req.Mode = "home_visit"
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateAppointment_MidnightRolloverRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "23:45")); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for 23:45 + 30 minutes, got %v", err)
	}

	req := env.request(env.tier1, "10:00")
	req.EndTime = "09:30"
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for end before start, got %v", err)
	}
}

func TestCreateAppointment_ExplicitEndTime(t *testing.T) {
	env := newTestEnv(t)
	req := env.request(env.tier1, "10:00")
	req.EndTime = "10:45"
	appt, err := env.svc.CreateAppointment(context.Background(), env.patient, req)
	if err != nil || appt.EndTime.String() != "10:45" {
		t.Errorf("expected explicit end 10:45, got %v err=%v", appt, err)
	}
}

func TestCreateAppointment_DoubleBooking(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:00")); err != nil {
		t.Fatal(err)
	}
	other := &auth.Caller{UserID: uuid.New(), Role: auth.Patient}
	_, err := env.svc.CreateAppointment(context.Background(), other, env.request(env.tier1, "10:00"))
	if !apperr.Is(err, apperr.KindConflict) || !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected slot conflict, got %v", err)
	}
}

func TestCreateAppointment_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			caller := &auth.Caller{UserID: uuid.New(), Role: auth.Patient}
			if _, err := env.svc.CreateAppointment(context.Background(), caller, env.request(env.tier1, "14:00")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Errorf("expected exactly one booking to win, got %d", succeeded)
	}
}

func TestCreateAppointment_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.appts.createErr = errors.New("connection reset")
	_, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:00"))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestCreateAppointment_NotifiesPatient(t *testing.T) {
	env := newTestEnv(t)
	appt, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier2, "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if len(env.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(env.notifier.sent))
	}
	msg := env.notifier.sent[0]
	if msg.event != notification.EventBookingConfirmation || msg.to != "+919800000001" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.data.Amount != "700.00" || msg.data.AppointmentID != appt.ID.String() || msg.data.Time != "10:00" {
		t.Errorf("unexpected data %+v", msg.data)
	}
}

func TestCreateAppointment_NoPhoneSkipsNotification(t *testing.T) {
	env := newTestEnv(t)
	caller := &auth.Caller{UserID: uuid.New(), Role: auth.Patient}
	if _, err := env.svc.CreateAppointment(context.Background(), caller, env.request(env.tier1, "10:00")); err != nil {
		t.Fatal(err)
	}
	if len(env.notifier.sent) != 0 {
		t.Error("expected no notification without a phone number")
	}
}

func TestCreateAppointment_InactiveService(t *testing.T) {
	env := newTestEnv(t)
	env.service.Active = false
	_, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:00"))
	if !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("expected invalid reference for a deactivated service, got %v", err)
	}
	if env.appts.count() != 0 {
		t.Error("a deactivated service must not be booked")
	}
}

func TestCreateAppointment_MustMatchOfferedSlot(t *testing.T) {
	env := newTestEnv(t)
	// Mondays 09:00-11:00 only; testDate is a Monday.
	env.slots.rules = []AvailabilityRule{
		{DayOfWeek: time.Monday, StartTime: 9 * 60, EndTime: 11 * 60},
	}

	cases := map[string]struct {
		date, start string
	}{
		"off grid":           {testDate, "03:07"},
		"between grid steps": {testDate, "10:10"},
		"outside rule":       {testDate, "14:00"},
		"after rule ends":    {testDate, "11:00"},
		"day off":            {"2025-03-11", "10:00"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := env.request(env.tier1, tc.start)
			req.AppointmentDate = tc.date
			_, err := env.svc.CreateAppointment(context.Background(), env.patient, req)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if env.appts.count() != 0 {
		t.Fatal("slots the resolver would not offer must not be stored")
	}

	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:30")); err != nil {
		t.Errorf("last offered slot 10:30 should book, got %v", err)
	}
}

func TestCreateAppointment_EarlierToday(t *testing.T) {
	env := newTestEnv(t)
	// now is 2025-03-01 10:00.
	for _, start := range []string{"09:00", "10:00"} {
		req := env.request(env.tier1, start)
		req.AppointmentDate = "2025-03-01"
		if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s today: expected validation error, got %v", start, err)
		}
	}
	req := env.request(env.tier1, "10:30")
	req.AppointmentDate = "2025-03-01"
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, req); err != nil {
		t.Errorf("later today should book, got %v", err)
	}
}

func TestCreateAppointment_RulesUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.slots.err = errors.New("db down")
	_, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:00"))
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal error, got %v", err)
	}
}

// -- ListAppointments / GetAppointment --

func seed(t *testing.T, env *testEnv, caller *auth.Caller, loc catalog.Location, date, start string) *Appointment {
	t.Helper()
	req := env.request(loc, start)
	req.AppointmentDate = date
	appt, err := env.svc.CreateAppointment(context.Background(), caller, req)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return appt
}

func TestListAppointments_ScopesAndOrder(t *testing.T) {
	env := newTestEnv(t)
	other := &auth.Caller{UserID: uuid.New(), Role: auth.Patient}
	seed(t, env, env.patient, env.tier1, "2025-03-11", "09:00")
	seed(t, env, env.patient, env.tier2, "2025-03-10", "15:00")
	seed(t, env, env.patient, env.tier1, "2025-03-10", "09:30")
	seed(t, env, other, env.tier2, "2025-03-12", "10:00")

	items, total, err := env.svc.ListAppointments(context.Background(), env.patient, AppointmentFilter{}, pagination.New(1, 10))
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("patient should see 3 own appointments, got %d", total)
	}
	order := []string{"2025-03-10 09:30", "2025-03-10 15:00", "2025-03-11 09:00"}
	for i, v := range items {
		if got := v.AppointmentDate + " " + v.StartTime.String(); got != order[i] {
			t.Errorf("position %d: got %s, want %s", i, got, order[i])
		}
	}

	admin := &auth.Caller{UserID: uuid.New(), Role: auth.SuperAdmin}
	if _, total, _ := env.svc.ListAppointments(context.Background(), admin, AppointmentFilter{}, pagination.New(1, 10)); total != 4 {
		t.Errorf("super admin should see all 4, got %d", total)
	}

	locAdmin := &auth.Caller{UserID: uuid.New(), Role: auth.LocationAdmin, LocationID: &env.tier2.ID}
	if _, total, _ := env.svc.ListAppointments(context.Background(), locAdmin, AppointmentFilter{}, pagination.New(1, 10)); total != 2 {
		t.Errorf("location admin should see 2, got %d", total)
	}

	doctor := &auth.Caller{UserID: uuid.New(), Role: auth.Doctor, DoctorID: &env.doctorID}
	if _, total, _ := env.svc.ListAppointments(context.Background(), doctor, AppointmentFilter{DateFrom: "2025-03-11"}, pagination.New(1, 10)); total != 2 {
		t.Errorf("doctor filtered from 03-11 should see 2, got %d", total)
	}
}

func TestListAppointments_Errors(t *testing.T) {
	env := newTestEnv(t)
	p := pagination.New(1, 10)

	if _, _, err := env.svc.ListAppointments(context.Background(), nil, AppointmentFilter{}, p); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if _, _, err := env.svc.ListAppointments(context.Background(), env.patient, AppointmentFilter{Status: "lost"}, p); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for status, got %v", err)
	}
	if _, _, err := env.svc.ListAppointments(context.Background(), env.patient, AppointmentFilter{DateTo: "soon"}, p); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error for date, got %v", err)
	}
	doctorNoProfile := &auth.Caller{UserID: uuid.New(), Role: auth.Doctor}
	if _, _, err := env.svc.ListAppointments(context.Background(), doctorNoProfile, AppointmentFilter{}, p); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	env.appts.listErr = errors.New("timeout")
	if _, _, err := env.svc.ListAppointments(context.Background(), env.patient, AppointmentFilter{}, p); !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal, got %v", err)
	}
}

func TestGetAppointment_Visibility(t *testing.T) {
	env := newTestEnv(t)
	appt := seed(t, env, env.patient, env.tier1, testDate, "10:00")

	if _, err := env.svc.GetAppointment(context.Background(), env.patient, appt.ID); err != nil {
		t.Errorf("owner should see appointment: %v", err)
	}
	stranger := &auth.Caller{UserID: uuid.New(), Role: auth.Patient}
	if _, err := env.svc.GetAppointment(context.Background(), stranger, appt.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("stranger should get not found, got %v", err)
	}
	if _, err := env.svc.GetAppointment(context.Background(), env.patient, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- UpdateStatus --

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	appt := seed(t, env, env.patient, env.tier1, testDate, "10:00")
	doctor := &auth.Caller{UserID: uuid.New(), Role: auth.Doctor, DoctorID: &env.doctorID}
	ctx := context.Background()

	if _, err := env.svc.UpdateStatus(ctx, doctor, appt.ID, UpdateStatusRequest{Status: StatusCompleted}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("pending -> completed should be rejected, got %v", err)
	}

	// Payment confirms the appointment.
	orderID := "order_1"
	_ = env.appts.SetOrderID(ctx, appt.ID, orderID)
	_, _ = env.appts.ConfirmPayment(ctx, orderID, "pay_1")

	if _, err := env.svc.UpdateStatus(ctx, env.patient, appt.ID, UpdateStatusRequest{Status: StatusCompleted}); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("patients may only cancel, got %v", err)
	}
	updated, err := env.svc.UpdateStatus(ctx, doctor, appt.ID, UpdateStatusRequest{Status: StatusCompleted})
	if err != nil || updated.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v err=%v", updated, err)
	}
	if _, err := env.svc.UpdateStatus(ctx, doctor, appt.ID, UpdateStatusRequest{Status: StatusCancelled}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("completed is terminal, got %v", err)
	}

	otherDoctorID := uuid.New()
	otherDoctor := &auth.Caller{UserID: uuid.New(), Role: auth.Doctor, DoctorID: &otherDoctorID}
	if _, err := env.svc.UpdateStatus(ctx, otherDoctor, appt.ID, UpdateStatusRequest{Status: StatusNoShow}); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("another doctor must not see the appointment, got %v", err)
	}
}

func TestUpdateStatus_PatientCancelNotifies(t *testing.T) {
	env := newTestEnv(t)
	appt := seed(t, env, env.patient, env.tier1, testDate, "10:00")

	updated, err := env.svc.UpdateStatus(context.Background(), env.patient, appt.ID,
		UpdateStatusRequest{Status: StatusCancelled, Reason: "travelling"})
	if err != nil || updated.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %v err=%v", updated, err)
	}
	events := env.notifier.events()
	if len(events) != 2 || events[1] != notification.EventAppointmentCancelled {
		t.Fatalf("unexpected events %v", events)
	}
	if env.notifier.sent[1].data.Reason != "travelling" {
		t.Errorf("expected reason in message data, got %+v", env.notifier.sent[1].data)
	}

	// The slot is free again.
	if _, err := env.svc.CreateAppointment(context.Background(), env.patient, env.request(env.tier1, "10:00")); err != nil {
		t.Errorf("cancelled slot should be bookable, got %v", err)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	appt := seed(t, env, env.patient, env.tier1, testDate, "10:00")
	admin := &auth.Caller{UserID: uuid.New(), Role: auth.SuperAdmin}
	if _, err := env.svc.UpdateStatus(context.Background(), admin, appt.ID, UpdateStatusRequest{Status: "archived"}); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// -- Slots / Reminders --

func TestAvailableSlots(t *testing.T) {
	env := newTestEnv(t)
	svcID := env.service.ID
	slots, err := env.svc.AvailableSlots(context.Background(), env.doctorID, testDate, &svcID)
	if err != nil || len(slots) != 16 {
		t.Errorf("expected 16 slots, got %d err=%v", len(slots), err)
	}
	missing := uuid.New()
	if _, err := env.svc.AvailableSlots(context.Background(), env.doctorID, testDate, &missing); !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("expected invalid reference, got %v", err)
	}
	if _, err := env.svc.AvailableSlots(context.Background(), env.doctorID, "tomorrow", nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	env.service.Active = false
	if _, err := env.svc.AvailableSlots(context.Background(), env.doctorID, testDate, &svcID); !apperr.Is(err, apperr.KindInvalidReference) {
		t.Errorf("deactivated service: expected invalid reference, got %v", err)
	}
}

func TestSendReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	confirmed := seed(t, env, env.patient, env.tier1, testDate, "10:00")
	seed(t, env, env.patient, env.tier1, testDate, "11:00")
	seed(t, env, env.patient, env.tier1, "2025-03-11", "10:00")
	_ = env.appts.SetOrderID(ctx, confirmed.ID, "order_r")
	_, _ = env.appts.ConfirmPayment(ctx, "order_r", "pay_r")

	n, err := env.svc.SendReminders(ctx, testDate)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 reminder, got %d err=%v", n, err)
	}
	last := env.notifier.sent[len(env.notifier.sent)-1]
	if last.event != notification.EventAppointmentReminder || last.data.AppointmentID != confirmed.ID.String() {
		t.Errorf("unexpected reminder %+v", last)
	}
	if _, err := env.svc.SendReminders(ctx, "03/10"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestScopeFor(t *testing.T) {
	loc := uuid.New()
	if s, err := ScopeFor(&auth.Caller{Role: auth.LocationAdmin, LocationID: &loc}); err != nil || *s.LocationID != loc {
		t.Errorf("unexpected scope %+v err=%v", s, err)
	}
	if _, err := ScopeFor(&auth.Caller{Role: auth.LocationAdmin}); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if s, _ := ScopeFor(&auth.Caller{Role: auth.SuperAdmin}); s.PatientID != nil || s.DoctorID != nil || s.LocationID != nil {
		t.Errorf("super admin scope should be empty, got %+v", s)
	}
}
