package encounter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	encounters map[uuid.UUID]*Encounter
	soap       map[uuid.UUID]*SOAPNote
	vitals     map[uuid.UUID][]*Vitals
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		encounters: make(map[uuid.UUID]*Encounter),
		soap:       make(map[uuid.UUID]*SOAPNote),
		vitals:     make(map[uuid.UUID][]*Vitals),
	}
}

func (m *mockRepo) Create(_ context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	cp := *enc
	m.encounters[enc.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	e, ok := m.encounters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, enc *Encounter) error {
	if _, ok := m.encounters[enc.ID]; !ok {
		return ErrNotFound
	}
	cp := *enc
	m.encounters[enc.ID] = &cp
	return nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var r []*Encounter
	for _, e := range m.encounters {
		if e.PatientID == patientID {
			r = append(r, e)
		}
	}
	return r, len(r), nil
}

func (m *mockRepo) GetSOAP(_ context.Context, encounterID uuid.UUID) (*SOAPNote, error) {
	n, ok := m.soap[encounterID]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (m *mockRepo) UpsertSOAP(_ context.Context, n *SOAPNote) error {
	if old, ok := m.soap[n.EncounterID]; ok {
		n.ID = old.ID
	} else {
		n.ID = uuid.New()
	}
	m.soap[n.EncounterID] = n
	return nil
}

func (m *mockRepo) AddVitals(_ context.Context, v *Vitals) error {
	v.ID = uuid.New()
	v.RecordedAt = time.Now()
	m.vitals[v.EncounterID] = append(m.vitals[v.EncounterID], v)
	return nil
}

func (m *mockRepo) ListVitals(_ context.Context, encounterID uuid.UUID) ([]*Vitals, error) {
	return m.vitals[encounterID], nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string { return &v }

func newEncounter(t *testing.T, svc *Service, patientID uuid.UUID) *Encounter {
	t.Helper()
	enc := &Encounter{PatientID: patientID, EncounterDate: time.Now(), Reason: "headache"}
	if err := svc.CreateEncounter(context.Background(), enc); err != nil {
		t.Fatalf("create encounter: %v", err)
	}
	return enc
}

// -- Tests --

func TestCreateEncounter(t *testing.T) {
	svc, _ := newTestService()
	enc := newEncounter(t, svc, uuid.New())
	if enc.Status != StatusScheduled {
		t.Errorf("expected default status scheduled, got %s", enc.Status)
	}

	tests := []struct {
		name string
		enc  Encounter
	}{
		{"missing patient", Encounter{EncounterDate: time.Now(), Reason: "x"}},
		{"missing date", Encounter{PatientID: uuid.New(), Reason: "x"}},
		{"missing reason", Encounter{PatientID: uuid.New(), EncounterDate: time.Now()}},
		{"completed on create", Encounter{PatientID: uuid.New(), EncounterDate: time.Now(), Reason: "x", Status: StatusCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.enc
			if err := svc.CreateEncounter(context.Background(), &e); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusScheduled, StatusInProgress, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUpdateEncounter_Status(t *testing.T) {
	svc, _ := newTestService()
	enc := newEncounter(t, svc, uuid.New())

	got, err := svc.UpdateEncounter(context.Background(), enc.ID, EncounterUpdate{Status: strPtr(StatusInProgress)}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", got.Status)
	}

	_, err = svc.UpdateEncounter(context.Background(), enc.ID, EncounterUpdate{Status: strPtr(StatusScheduled)}, false)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.UpdateEncounter(context.Background(), enc.ID, EncounterUpdate{Status: strPtr("finished")}, false); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestUpdateEncounter_NurseSubset(t *testing.T) {
	svc, _ := newTestService()
	enc := newEncounter(t, svc, uuid.New())

	u := EncounterUpdate{Reason: strPtr("changed"), Status: strPtr(StatusInProgress)}
	got, err := svc.UpdateEncounter(context.Background(), enc.ID, u, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reason != "headache" {
		t.Errorf("nurse update must not change reason, got %q", got.Reason)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected status change applied, got %s", got.Status)
	}
}

func TestBMI(t *testing.T) {
	tests := []struct {
		weight, height float64
		bmi            float64
		status         string
	}{
		{50, 175, 16.3, BMIUnderweight},
		{70, 175, 22.9, BMINormal},
		{85, 175, 27.8, BMIOverweight},
		{100, 175, 32.7, BMIObese},
	}
	for _, tt := range tests {
		v := &Vitals{Weight: floatPtr(tt.weight), Height: floatPtr(tt.height)}
		v.ComputeBMI()
		if v.BMI == nil || *v.BMI != tt.bmi {
			t.Errorf("BMI(%v, %v) = %v, want %v", tt.weight, tt.height, v.BMI, tt.bmi)
			continue
		}
		if *v.BMIStatus != tt.status {
			t.Errorf("BMI status for %v = %s, want %s", tt.bmi, *v.BMIStatus, tt.status)
		}
	}

	v := &Vitals{Weight: floatPtr(70)}
	v.ComputeBMI()
	if v.BMI != nil || v.BMIStatus != nil {
		t.Error("expected no BMI without height")
	}
}

func TestBMIStatus_Boundaries(t *testing.T) {
	cases := map[float64]string{18.4: BMIUnderweight, 18.5: BMINormal, 24.9: BMINormal, 25: BMIOverweight, 30: BMIObese}
	for bmi, want := range cases {
		if got := BMIStatus(bmi); got != want {
			t.Errorf("BMIStatus(%v) = %s, want %s", bmi, got, want)
		}
	}
}

func TestRecordVitals(t *testing.T) {
	svc, repo := newTestService()
	enc := newEncounter(t, svc, uuid.New())
	nurse := uuid.New()

	v := &Vitals{RecordedBy: nurse, BPS: intPtr(120), BPD: intPtr(80), Weight: floatPtr(70), Height: floatPtr(175)}
	if err := svc.RecordVitals(context.Background(), enc, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.BMI == nil {
		t.Error("expected BMI computed")
	}
	if len(repo.vitals[enc.ID]) != 1 {
		t.Error("expected vitals stored")
	}

	bad := &Vitals{RecordedBy: nurse, OxygenSaturation: intPtr(120)}
	if err := svc.RecordVitals(context.Background(), enc, bad); err == nil {
		t.Error("expected range error")
	}

	enc.Status = StatusCancelled
	if err := svc.RecordVitals(context.Background(), enc, &Vitals{RecordedBy: nurse}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on cancelled encounter, got %v", err)
	}
}

func TestSaveSOAP(t *testing.T) {
	svc, _ := newTestService()
	enc := newEncounter(t, svc, uuid.New())
	doctor := uuid.New()

	if err := svc.SaveSOAP(context.Background(), enc, &SOAPNote{AuthorUserID: doctor}); err == nil {
		t.Error("expected error for empty note")
	}

	n := &SOAPNote{AuthorUserID: doctor, Subjective: "headache for 3 weeks", Plan: "MRI"}
	if err := svc.SaveSOAP(context.Background(), enc, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := n.ID

	n2 := &SOAPNote{AuthorUserID: doctor, Assessment: "suspected mass"}
	if err := svc.SaveSOAP(context.Background(), enc, n2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n2.ID != first {
		t.Error("expected one SOAP note per encounter")
	}
	got, _ := svc.GetSOAP(context.Background(), enc.ID)
	if got.Assessment != "suspected mass" {
		t.Errorf("expected latest note, got %+v", got)
	}
}
