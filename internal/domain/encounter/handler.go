package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/pkg/pagination"
)

type Handler struct {
	svc      *Service
	patients auth.PatientDirectory
	authz    *auth.Enforcer
}

func NewHandler(svc *Service, patients auth.PatientDirectory, authz *auth.Enforcer) *Handler {
	return &Handler{svc: svc, patients: patients, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	authed := auth.RequireAuthenticated()
	api.POST("/encounters", h.CreateEncounter, authed)
	api.GET("/encounters/:id", h.GetEncounter, authed)
	api.PUT("/encounters/:id", h.UpdateEncounter, authed)
	api.DELETE("/encounters/:id", h.DeleteEncounter, authed)
	api.GET("/patients/:id/encounters", h.ListByPatient, authed)

	api.GET("/encounters/:id/soap", h.GetSOAP, authed)
	api.PUT("/encounters/:id/soap", h.SaveSOAP, authed)

	api.POST("/encounters/:id/vitals", h.RecordVitals, authed)
	api.GET("/encounters/:id/vitals", h.ListVitals, authed)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var enc Encounter
	if err := c.Bind(&enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.patientRef(c, enc.PatientID)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourceEncounter, Patient: ref}, auth.ActionCreate); err != nil {
		return err
	}
	if id := auth.IdentityFromContext(c.Request().Context()); id.IsDoctor() && enc.DoctorUserID == nil {
		enc.DoctorUserID = &id.ID
	}
	if err := h.svc.CreateEncounter(c.Request().Context(), &enc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	enc, _, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	enc, d, err := h.authorized(c, auth.ActionUpdate)
	if err != nil {
		return err
	}
	var u EncounterUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdateEncounter(c.Request().Context(), enc.ID, u, d.Restricted)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteEncounter answers hard deletes with an explicit denial; encounters
// are never removed.
func (h *Handler) DeleteEncounter(c echo.Context) error {
	if _, _, err := h.authorized(c, auth.ActionDelete); err != nil {
		return err
	}
	return echo.NewHTTPError(http.StatusMethodNotAllowed, "encounters cannot be deleted")
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.patientRef(c, patientID)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourceEncounter, Patient: ref}, auth.ActionRead); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- SOAP --

func (h *Handler) GetSOAP(c echo.Context) error {
	enc, _, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	n, err := h.svc.GetSOAP(c.Request().Context(), enc.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// SaveSOAP is authorized as authoring new clinical content on the
// encounter, which only care-team doctors may do.
func (h *Handler) SaveSOAP(c echo.Context) error {
	enc, _, err := h.authorized(c, auth.ActionCreate)
	if err != nil {
		return err
	}
	var n SOAPNote
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.AuthorUserID = auth.IdentityFromContext(c.Request().Context()).ID
	if err := h.svc.SaveSOAP(c.Request().Context(), enc, &n); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// -- Vitals --

func (h *Handler) RecordVitals(c echo.Context) error {
	enc, _, err := h.authorized(c, auth.ActionUpdate)
	if err != nil {
		return err
	}
	var v Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.RecordedBy = auth.IdentityFromContext(c.Request().Context()).ID
	if err := h.svc.RecordVitals(c.Request().Context(), enc, &v); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVitals(c echo.Context) error {
	enc, _, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	items, err := h.svc.ListVitals(c.Request().Context(), enc.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// authorized loads the encounter named by :id and checks act against it.
func (h *Handler) authorized(c echo.Context, act auth.Action) (*Encounter, auth.Decision, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, auth.Decision{}, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.GetEncounter(c.Request().Context(), id)
	if err != nil {
		return nil, auth.Decision{}, mapError(err)
	}
	ref, err := h.patientRef(c, enc.PatientID)
	if err != nil {
		return nil, auth.Decision{}, err
	}
	d, err := h.authz.Check(c, auth.Resource{Type: auth.ResourceEncounter, Patient: ref}, act)
	if err != nil {
		return nil, d, err
	}
	return enc, d, nil
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

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
