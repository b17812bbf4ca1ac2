package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/pkg/pagination"
)

// PatientLookup resolves patient ownership data by record id or by the
// linked login account.
type PatientLookup interface {
	auth.PatientDirectory
	PatientRefByUserID(ctx context.Context, userID uuid.UUID) (auth.PatientRef, error)
}

type Handler struct {
	svc      *Service
	patients PatientLookup
	authz    *auth.Enforcer
}

func NewHandler(svc *Service, patients PatientLookup, authz *auth.Enforcer) *Handler {
	return &Handler{svc: svc, patients: patients, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments", auth.RequireAuthenticated())
	g.POST("", h.BookAppointment)
	g.GET("", h.ListAppointments)
	g.GET("/:id", h.GetAppointment)
	g.POST("/:id/confirm", h.ConfirmAppointment)
	g.POST("/:id/cancel", h.CancelAppointment)
	g.DELETE("/:id", h.DeleteAppointment)
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	if caller.IsPatient() && a.PatientID == uuid.Nil {
		ref, err := h.selfRef(c, caller)
		if err != nil {
			return err
		}
		a.PatientID = ref.ID
	}
	ref, err := h.patientRef(c, a.PatientID)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, a.Resource(ref), auth.ActionCreate); err != nil {
		return err
	}
	if caller.IsDoctor() && a.DoctorUserID == nil {
		a.DoctorUserID = &caller.ID
	}
	if err := h.svc.Book(c.Request().Context(), &a, ref, caller); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, _, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments lists appointments matching the query filters. Patient
// callers only ever see their own record's appointments.
func (h *Handler) ListAppointments(c echo.Context) error {
	caller, err := auth.Caller(c)
	if err != nil {
		return err
	}
	f, err := parseFilter(c)
	if err != nil {
		return err
	}
	switch {
	case f.PatientID != nil:
		ref, err := h.patientRef(c, *f.PatientID)
		if err != nil {
			return err
		}
		res := auth.Resource{Type: auth.ResourceAppointment, Patient: ref}
		if _, err := h.authz.Check(c, res, auth.ActionRead); err != nil {
			return err
		}
	case caller.IsPatient():
		ref, err := h.selfRef(c, caller)
		if err != nil {
			return err
		}
		f.PatientID = &ref.ID
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	a, ref, err := h.authorized(c, auth.ActionConfirm)
	if err != nil {
		return err
	}
	if err := h.svc.Confirm(c.Request().Context(), a, ref); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.cancel(c, auth.ActionUpdate)
}

// DeleteAppointment cancels the appointment; rows are never removed.
func (h *Handler) DeleteAppointment(c echo.Context) error {
	return h.cancel(c, auth.ActionDelete)
}

func (h *Handler) cancel(c echo.Context, act auth.Action) error {
	a, ref, err := h.authorized(c, act)
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if err := h.svc.Cancel(c.Request().Context(), a, ref, req.Reason); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// authorized loads the appointment named by :id and checks act against it.
func (h *Handler) authorized(c echo.Context, act auth.Action) (*Appointment, auth.PatientRef, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, auth.PatientRef{}, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, auth.PatientRef{}, mapError(err)
	}
	ref, err := h.patientRef(c, a.PatientID)
	if err != nil {
		return nil, auth.PatientRef{}, err
	}
	if _, err := h.authz.Check(c, a.Resource(ref), act); err != nil {
		return nil, ref, err
	}
	return a, ref, nil
}

func (h *Handler) patientRef(c echo.Context, patientID uuid.UUID) (auth.PatientRef, error) {
	if patientID == uuid.Nil {
		return auth.PatientRef{}, echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	ref, err := h.patients.PatientRef(c.Request().Context(), patientID)
	if errors.Is(err, auth.ErrPatientNotFound) {
		return auth.PatientRef{}, echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return auth.PatientRef{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ref, nil
}

func (h *Handler) selfRef(c echo.Context, caller *auth.Identity) (auth.PatientRef, error) {
	ref, err := h.patients.PatientRefByUserID(c.Request().Context(), caller.ID)
	if errors.Is(err, auth.ErrPatientNotFound) {
		return auth.PatientRef{}, echo.NewHTTPError(http.StatusNotFound, "no patient record linked to this account")
	}
	if err != nil {
		return auth.PatientRef{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ref, nil
}

func parseFilter(c echo.Context) (Filter, error) {
	var f Filter
	parseID := func(name string) (*uuid.UUID, error) {
		v := c.QueryParam(name)
		if v == "" {
			return nil, nil
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		return &id, nil
	}
	parseTime := func(name string) (*time.Time, error) {
		v := c.QueryParam(name)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC 3339")
		}
		return &t, nil
	}

	var err error
	if f.PatientID, err = parseID("patient_id"); err != nil {
		return f, err
	}
	if f.DoctorUserID, err = parseID("doctor_user_id"); err != nil {
		return f, err
	}
	if f.From, err = parseTime("from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to"); err != nil {
		return f, err
	}
	f.Status = c.QueryParam("status")
	return f, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
