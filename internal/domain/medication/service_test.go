package medication

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/domain/encounter"
)

// -- Mock Repository --

type mockRepo struct {
	store map[uuid.UUID]*Prescription
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.PrescribedAt = time.Now()
	p.UpdatedAt = p.PrescribedAt
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Prescription) error {
	if _, ok := m.store[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) ListByEncounter(_ context.Context, encounterID uuid.UUID) ([]*Prescription, error) {
	var out []*Prescription
	for _, p := range m.store {
		if p.EncounterID == encounterID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.store {
		if p.PatientID == patientID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrescribedAt.After(out[j].PrescribedAt) })
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

// -- Helpers --

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo), repo
}

func newEncounter() *encounter.Encounter {
	return &encounter.Encounter{ID: uuid.New(), PatientID: uuid.New(), Status: encounter.StatusInProgress}
}

func validPrescription() *Prescription {
	return &Prescription{
		PrescriberUserID: uuid.New(),
		MedicationName:   "Levetiracetam",
		Dosage:           "500 mg",
		Frequency:        "BID",
	}
}

func strPtr(s string) *string { return &s }

func prescribe(t *testing.T, svc *Service, enc *encounter.Encounter) *Prescription {
	t.Helper()
	p := validPrescription()
	if err := svc.Prescribe(context.Background(), enc, p); err != nil {
		t.Fatalf("prescribe: %v", err)
	}
	return p
}

// -- Tests --

func TestPrescribe(t *testing.T) {
	svc, repo := newTestService()
	enc := newEncounter()

	p := validPrescription()
	p.PatientID = uuid.New() // ignored in favour of the encounter's patient
	if err := svc.Prescribe(context.Background(), enc, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientID != enc.PatientID || p.EncounterID != enc.ID {
		t.Error("expected prescription linked to the encounter and its patient")
	}
	if p.Route != RouteOral {
		t.Errorf("expected default route oral, got %s", p.Route)
	}
	if _, ok := repo.store[p.ID]; !ok {
		t.Error("expected prescription stored")
	}
}

func TestPrescribe_Validation(t *testing.T) {
	svc, repo := newTestService()

	tests := []struct {
		name   string
		mutate func(p *Prescription, enc *encounter.Encounter)
	}{
		{"missing name", func(p *Prescription, _ *encounter.Encounter) { p.MedicationName = " " }},
		{"missing dosage", func(p *Prescription, _ *encounter.Encounter) { p.Dosage = "" }},
		{"missing frequency", func(p *Prescription, _ *encounter.Encounter) { p.Frequency = "" }},
		{"bad route", func(p *Prescription, _ *encounter.Encounter) { p.Route = "rectal" }},
		{"no prescriber", func(p *Prescription, _ *encounter.Encounter) { p.PrescriberUserID = uuid.Nil }},
		{"cancelled encounter", func(_ *Prescription, enc *encounter.Encounter) { enc.Status = encounter.StatusCancelled }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, enc := validPrescription(), newEncounter()
			tt.mutate(p, enc)
			if err := svc.Prescribe(context.Background(), enc, p); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if len(repo.store) != 0 {
		t.Error("invalid prescriptions must not be stored")
	}
}

func TestUpdatePrescription(t *testing.T) {
	svc, repo := newTestService()
	p := prescribe(t, svc, newEncounter())

	updated, err := svc.Update(context.Background(), p.ID, PrescriptionUpdate{
		Dosage:       strPtr("750 mg"),
		Route:        strPtr(RouteIV),
		Instructions: strPtr("with food"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.store[p.ID]
	if stored.Dosage != "750 mg" || stored.Route != RouteIV || *stored.Instructions != "with food" {
		t.Errorf("unexpected stored prescription %+v", stored)
	}
	if updated.MedicationName != "Levetiracetam" || updated.Frequency != "BID" {
		t.Error("untouched fields must be kept")
	}

	if _, err := svc.Update(context.Background(), p.ID, PrescriptionUpdate{Route: strPtr("nasal")}); err == nil {
		t.Error("expected error for invalid route")
	}
	if _, err := svc.Update(context.Background(), uuid.New(), PrescriptionUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListPrescriptions(t *testing.T) {
	svc, _ := newTestService()
	enc := newEncounter()
	prescribe(t, svc, enc)
	prescribe(t, svc, enc)
	prescribe(t, svc, newEncounter())

	items, err := svc.ListByEncounter(context.Background(), enc.ID)
	if err != nil || len(items) != 2 {
		t.Errorf("expected 2 for encounter, got %d (%v)", len(items), err)
	}
	_, total, err := svc.ListByPatient(context.Background(), enc.PatientID, 20, 0)
	if err != nil || total != 2 {
		t.Errorf("expected 2 for patient, got %d (%v)", total, err)
	}
}
