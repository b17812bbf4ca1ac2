package medication

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/domain/encounter"
	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/pkg/pagination"
)

// EncounterSource loads the encounter a prescription is written in.
type EncounterSource interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Handler struct {
	svc        *Service
	encounters EncounterSource
	patients   auth.PatientDirectory
	authz      *auth.Enforcer
}

func NewHandler(svc *Service, encounters EncounterSource, patients auth.PatientDirectory, authz *auth.Enforcer) *Handler {
	return &Handler{svc: svc, encounters: encounters, patients: patients, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	authed := auth.RequireAuthenticated()
	api.POST("/prescriptions", h.CreatePrescription, authed)
	api.GET("/prescriptions/:id", h.GetPrescription, authed)
	api.PUT("/prescriptions/:id", h.UpdatePrescription, authed)
	api.DELETE("/prescriptions/:id", h.DeletePrescription, authed)
	api.GET("/encounters/:id/prescriptions", h.ListByEncounter, authed)
	api.GET("/patients/:id/prescriptions", h.ListByPatient, authed)
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var p Prescription
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	enc, ref, err := h.encounterRef(c, p.EncounterID)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, p.Resource(ref), auth.ActionCreate); err != nil {
		return err
	}
	p.PrescriberUserID = auth.IdentityFromContext(c.Request().Context()).ID
	if err := h.svc.Prescribe(c.Request().Context(), enc, &p); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	p, err := h.authorized(c, auth.ActionUpdate)
	if err != nil {
		return err
	}
	var u PrescriptionUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.Update(c.Request().Context(), p.ID, u)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeletePrescription always refuses; prescriptions stay on the record.
func (h *Handler) DeletePrescription(c echo.Context) error {
	if _, err := h.authorized(c, auth.ActionDelete); err != nil {
		return err
	}
	return echo.NewHTTPError(http.StatusMethodNotAllowed, "prescriptions cannot be deleted")
}

func (h *Handler) ListByEncounter(c echo.Context) error {
	encounterID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	_, ref, err := h.encounterRef(c, encounterID)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePrescription, Patient: ref}, auth.ActionRead); err != nil {
		return err
	}
	items, err := h.svc.ListByEncounter(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Prescription{}
	}
	return c.JSON(http.StatusOK, items)
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
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePrescription, Patient: ref}, auth.ActionRead); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// authorized loads the prescription named by :id and checks act against it.
func (h *Handler) authorized(c echo.Context, act auth.Action) (*Prescription, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, mapError(err)
	}
	ref, err := h.patientRef(c, p.PatientID)
	if err != nil {
		return nil, err
	}
	if _, err := h.authz.Check(c, p.Resource(ref), act); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) encounterRef(c echo.Context, encounterID uuid.UUID) (*encounter.Encounter, auth.PatientRef, error) {
	enc, err := h.encounters.GetEncounter(c.Request().Context(), encounterID)
	if errors.Is(err, encounter.ErrNotFound) {
		return nil, auth.PatientRef{}, echo.NewHTTPError(http.StatusNotFound, "encounter not found")
	}
	if err != nil {
		return nil, auth.PatientRef{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ref, err := h.patientRef(c, enc.PatientID)
	if err != nil {
		return nil, auth.PatientRef{}, err
	}
	return enc, ref, nil
}

func (h *Handler) patientRef(c echo.Context, patientID uuid.UUID) (auth.PatientRef, error) {
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
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
