package careteam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuronova/emr/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	authz := auth.NewEnforcer(auth.NewEvaluator(f.svc), zerolog.Nop())
	return NewHandler(f.svc, authz), f, echo.New()
}

func newContext(e *echo.Echo, method, body string, id *auth.Identity) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), id))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError %d, got %v", code, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

var admin = &auth.Identity{ID: uuid.New(), Role: auth.RoleAdmin}

func TestAssignHandler_Admin(t *testing.T) {
	h, f, e := newTestHandler()
	patient := f.patients.add()
	doctor := f.profiles.add(auth.RoleDoctor)

	body := `{"patient_id":"` + patient.String() + `","member_user_id":"` + doctor.String() + `","is_primary":true}`
	c, rec := newContext(e, http.MethodPost, body, admin)
	if err := h.Assign(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got CareAssignment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.IsPrimary || got.MemberRole != auth.RoleDoctor {
		t.Errorf("unexpected response %+v", got)
	}

	c, _ = newContext(e, http.MethodPost, body, admin)
	expectStatus(t, h.Assign(c), http.StatusConflict)
}

func TestAssignHandler_DoctorForbidden(t *testing.T) {
	h, f, e := newTestHandler()
	doctor := f.profiles.add(auth.RoleDoctor)
	body := `{"patient_id":"` + f.patients.add().String() + `","member_user_id":"` + doctor.String() + `"}`
	c, _ := newContext(e, http.MethodPost, body, &auth.Identity{ID: doctor, Role: auth.RoleDoctor})
	expectStatus(t, h.Assign(c), http.StatusForbidden)
}

func TestAssignHandler_UnknownPatient(t *testing.T) {
	h, f, e := newTestHandler()
	doctor := f.profiles.add(auth.RoleDoctor)
	body := `{"patient_id":"` + uuid.NewString() + `","member_user_id":"` + doctor.String() + `"}`
	c, _ := newContext(e, http.MethodPost, body, admin)
	expectStatus(t, h.Assign(c), http.StatusNotFound)
}

func TestGetHandler_OwnAssignmentOnly(t *testing.T) {
	h, f, e := newTestHandler()
	nurse := f.profiles.add(auth.RoleNurse)
	a := &CareAssignment{PatientID: f.patients.add(), MemberUserID: nurse}
	if err := f.svc.Assign(context.Background(), a); err != nil {
		t.Fatalf("assign: %v", err)
	}

	tests := []struct {
		name string
		id   *auth.Identity
		want int
	}{
		{"member", &auth.Identity{ID: nurse, Role: auth.RoleNurse}, http.StatusOK},
		{"other nurse", &auth.Identity{ID: uuid.New(), Role: auth.RoleNurse}, http.StatusForbidden},
		{"patient", &auth.Identity{ID: uuid.New(), Role: auth.RolePatient}, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(e, http.MethodGet, "", tt.id)
			c.SetParamNames("id")
			c.SetParamValues(a.ID.String())
			err := h.Get(c)
			if tt.want == http.StatusOK {
				if err != nil || rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d (%v)", rec.Code, err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestDeactivateHandler(t *testing.T) {
	h, f, e := newTestHandler()
	doctor := f.profiles.add(auth.RoleDoctor)
	patient := f.patients.add()
	a := &CareAssignment{PatientID: patient, MemberUserID: doctor}
	f.svc.Assign(context.Background(), a)

	c, _ := newContext(e, http.MethodDelete, "", &auth.Identity{ID: doctor, Role: auth.RoleDoctor})
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectStatus(t, h.Deactivate(c), http.StatusForbidden)

	c, rec := newContext(e, http.MethodDelete, "", admin)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.Deactivate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if ok, _ := f.svc.HasActiveAssignment(context.Background(), patient, doctor); ok {
		t.Error("expected assignment inactive")
	}
}

func TestListMineHandler(t *testing.T) {
	h, f, e := newTestHandler()
	doctor := f.profiles.add(auth.RoleDoctor)
	f.svc.Assign(context.Background(), &CareAssignment{PatientID: f.patients.add(), MemberUserID: doctor})
	f.svc.Assign(context.Background(), &CareAssignment{PatientID: f.patients.add(), MemberUserID: f.profiles.add(auth.RoleDoctor)})

	c, rec := newContext(e, http.MethodGet, "", &auth.Identity{ID: doctor, Role: auth.RoleDoctor})
	if err := h.ListMine(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["total"].(float64) != 1 {
		t.Errorf("expected 1 assignment, got %v", resp["total"])
	}
}

func TestListByPatientHandler_RequiresPatientID(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newContext(e, http.MethodGet, "", admin)
	expectStatus(t, h.ListByPatient(c), http.StatusBadRequest)
}
