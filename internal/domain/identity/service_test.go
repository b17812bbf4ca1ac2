package identity

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/auth"
)

// -- Mock Repositories --

type mockProfileRepo struct {
	store map[uuid.UUID]*Profile
	err   error
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{store: make(map[uuid.UUID]*Profile)}
}

func (m *mockProfileRepo) Create(_ context.Context, p *Profile) error {
	if _, ok := m.store[p.UserID]; ok {
		return errors.New("duplicate profile")
	}
	m.store[p.UserID] = p
	return nil
}

func (m *mockProfileRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.store[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
	seq   int64
	locks int
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Patient, error) {
	for _, p := range m.store {
		if p.UserID != nil && *p.UserID == userID && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockPatientRepo) LockByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.locks++
	return m.GetByID(ctx, id)
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) SetPrimaryDoctor(_ context.Context, id uuid.UUID, doctorUserID *uuid.UUID) error {
	p, ok := m.store[id]
	if !ok {
		return ErrNotFound
	}
	p.PrimaryDoctorUserID = doctorUserID
	return nil
}

func (m *mockPatientRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	p, ok := m.store[id]
	if !ok || !p.IsActive {
		return ErrNotFound
	}
	now := time.Now()
	p.IsActive = false
	p.DeletedAt = &now
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		if p.IsActive {
			r = append(r, p)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].LastName < r[j].LastName })
	total := len(r)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return r[offset:end], total, nil
}

func (m *mockPatientRepo) NextPIDSequence(_ context.Context) (int64, error) {
	m.seq++
	return m.seq, nil
}

type mockDoctorRepo struct {
	store map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{store: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	d.ID = uuid.New()
	m.store[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Doctor, error) {
	for _, d := range m.store {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockDoctorRepo) List(_ context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	var r []*Doctor
	for _, d := range m.store {
		if specialty == "" || d.Specialty == specialty {
			r = append(r, d)
		}
	}
	return r, len(r), nil
}

type testRepos struct {
	profiles *mockProfileRepo
	patients *mockPatientRepo
	doctors  *mockDoctorRepo
}

func newTestService() (*Service, *testRepos) {
	repos := &testRepos{
		profiles: newMockProfileRepo(),
		patients: newMockPatientRepo(),
		doctors:  newMockDoctorRepo(),
	}
	svc := NewService(repos.profiles, repos.patients, repos.doctors)
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	return svc, repos
}

func strPtr(s string) *string { return &s }

func validPatient() *Patient {
	return &Patient{
		FirstName:   "Minji",
		LastName:    "Kim",
		DateOfBirth: time.Date(1980, 5, 2, 0, 0, 0, 0, time.UTC),
		Gender:      GenderFemale,
		Phone:       "010-1234-5678",
	}
}

// -- Profile Tests --

func TestCreateProfile(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.CreateProfile(context.Background(), &Profile{Role: auth.RoleDoctor}); err == nil {
		t.Error("expected error for missing user_id")
	}
	if err := svc.CreateProfile(context.Background(), &Profile{UserID: uuid.New(), Role: "physician"}); err == nil {
		t.Error("expected error for unknown role")
	}
	if err := svc.CreateProfile(context.Background(), &Profile{UserID: uuid.New(), Role: auth.RoleNurse}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRoleByUserID(t *testing.T) {
	svc, repos := newTestService()
	uid := uuid.New()
	repos.profiles.store[uid] = &Profile{UserID: uid, Role: auth.RoleDoctor}

	role, err := svc.RoleByUserID(context.Background(), uid)
	if err != nil || role != auth.RoleDoctor {
		t.Errorf("expected doctor, got %q (%v)", role, err)
	}
	if _, err := svc.RoleByUserID(context.Background(), uuid.New()); !errors.Is(err, auth.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}

	repos.profiles.err = errors.New("connection reset")
	if _, err := svc.RoleByUserID(context.Background(), uid); err == nil || errors.Is(err, auth.ErrProfileNotFound) {
		t.Errorf("store failures must not look like a missing profile, got %v", err)
	}
}

// -- Patient Tests --

func TestCreatePatient(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	doctor := uuid.New()
	p.PrimaryDoctorUserID = &doctor

	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.PID != "PT-20250314-0001" {
		t.Errorf("unexpected pid %q", p.PID)
	}
	if !p.IsActive {
		t.Error("expected new patient to be active")
	}
	if p.PrimaryDoctorUserID != nil {
		t.Error("primary doctor must only be set through a care assignment")
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name   string
		mutate func(p *Patient)
	}{
		{"missing name", func(p *Patient) { p.LastName = "" }},
		{"missing birth date", func(p *Patient) { p.DateOfBirth = time.Time{} }},
		{"bad gender", func(p *Patient) { p.Gender = "X" }},
		{"missing phone", func(p *Patient) { p.Phone = "" }},
		{"bad email", func(p *Patient) { p.Email = strPtr("nobody") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPatient()
			tt.mutate(p)
			if err := svc.CreatePatient(context.Background(), p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreatePatient_AccountMustBePatientRole(t *testing.T) {
	svc, repos := newTestService()
	uid := uuid.New()
	repos.profiles.store[uid] = &Profile{UserID: uid, Role: auth.RoleNurse}

	p := validPatient()
	p.UserID = &uid
	if err := svc.CreatePatient(context.Background(), p); err == nil {
		t.Error("expected error linking a nurse account to a patient record")
	}
}

func TestUpdatePatient_NurseRestricted(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}

	u := PatientUpdate{
		FirstName:        strPtr("Changed"),
		Phone:            strPtr("010-0000-0000"),
		EmergencyContact: strPtr("Kim Jisoo 010-9999-9999"),
		InsuranceID:      strPtr("INS-1"),
	}
	got, err := svc.UpdatePatient(context.Background(), p.ID, u, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstName != "Minji" {
		t.Errorf("nurse update must not change first_name, got %q", got.FirstName)
	}
	if got.InsuranceID != nil {
		t.Error("nurse update must not change insurance_id")
	}
	if got.Phone != "010-0000-0000" || got.EmergencyContact == nil {
		t.Errorf("expected phone and emergency contact applied, got %+v", got)
	}
}

func TestUpdatePatient_Full(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	svc.CreatePatient(context.Background(), p)

	got, err := svc.UpdatePatient(context.Background(), p.ID, PatientUpdate{FirstName: strPtr("Seoyeon")}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstName != "Seoyeon" {
		t.Errorf("expected first_name updated, got %q", got.FirstName)
	}

	if _, err := svc.UpdatePatient(context.Background(), p.ID, PatientUpdate{Gender: strPtr("?")}, false); err == nil {
		t.Error("expected validation error on update")
	}
}

func TestDeactivatePatient(t *testing.T) {
	svc, _ := newTestService()
	p := validPatient()
	svc.CreatePatient(context.Background(), p)

	if err := svc.DeactivatePatient(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.GetPatient(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("deactivated patients stay readable: %v", err)
	}
	if got.IsActive || got.DeletedAt == nil {
		t.Error("expected soft delete markers")
	}
	if err := svc.DeactivatePatient(context.Background(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second deactivate, got %v", err)
	}
	if _, err := svc.UpdatePatient(context.Background(), p.ID, PatientUpdate{}, false); err == nil {
		t.Error("expected error updating a deactivated patient")
	}
	if _, err := svc.LockPatient(context.Background(), p.ID); err == nil {
		t.Error("expected error locking a deactivated patient")
	}
}

func TestPatientRef(t *testing.T) {
	svc, _ := newTestService()
	uid := uuid.New()
	p := validPatient()
	p.UserID = &uid
	svc.CreatePatient(context.Background(), p)
	doctor := uuid.New()
	if err := svc.SetPrimaryDoctor(context.Background(), p.ID, &doctor); err != nil {
		t.Fatalf("set primary: %v", err)
	}

	ref, err := svc.PatientRef(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != p.ID || ref.UserID != uid || !ref.IsPrimaryDoctor(doctor) {
		t.Errorf("unexpected ref %+v", ref)
	}

	if _, err := svc.PatientRef(context.Background(), uuid.New()); !errors.Is(err, auth.ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestPatientRefByUserID(t *testing.T) {
	svc, _ := newTestService()
	uid := uuid.New()
	p := validPatient()
	p.UserID = &uid
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create: %v", err)
	}

	ref, err := svc.PatientRefByUserID(context.Background(), uid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != p.ID {
		t.Errorf("expected patient %s, got %s", p.ID, ref.ID)
	}
	if _, err := svc.PatientRefByUserID(context.Background(), uuid.New()); !errors.Is(err, auth.ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestLockPatient(t *testing.T) {
	svc, repos := newTestService()
	p := validPatient()
	svc.CreatePatient(context.Background(), p)

	if _, err := svc.LockPatient(context.Background(), p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repos.patients.locks != 1 {
		t.Errorf("expected the row lock path, got %d locks", repos.patients.locks)
	}
}

func TestFormatPID(t *testing.T) {
	day := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	if got := formatPID(day, 42); got != "PT-20251201-0042" {
		t.Errorf("unexpected pid %q", got)
	}
}

// -- Doctor Tests --

func TestCreateDoctor(t *testing.T) {
	svc, repos := newTestService()
	uid := uuid.New()
	repos.profiles.store[uid] = &Profile{UserID: uid, Role: auth.RoleDoctor}

	d := &Doctor{UserID: uid, FirstName: "Hyun", LastName: "Park", LicenseNumber: "LIC-001", Specialty: "neurosurgery"}
	if err := svc.CreateDoctor(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nurse := uuid.New()
	repos.profiles.store[nurse] = &Profile{UserID: nurse, Role: auth.RoleNurse}
	d2 := &Doctor{UserID: nurse, FirstName: "A", LastName: "B", LicenseNumber: "LIC-002", Specialty: "neurology"}
	if err := svc.CreateDoctor(context.Background(), d2); err == nil {
		t.Error("expected error for non-doctor account")
	}

	d3 := &Doctor{UserID: uuid.New(), FirstName: "A", LastName: "B", Specialty: "neurology"}
	if err := svc.CreateDoctor(context.Background(), d3); err == nil {
		t.Error("expected error for missing license_number")
	}
}

func TestListDoctors_Specialty(t *testing.T) {
	svc, repos := newTestService()
	repos.doctors.Create(context.Background(), &Doctor{UserID: uuid.New(), Specialty: "neurology"})
	repos.doctors.Create(context.Background(), &Doctor{UserID: uuid.New(), Specialty: "radiology"})

	items, total, err := svc.ListDoctors(context.Background(), "neurology", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 neurologist, got %d", total)
	}
}
