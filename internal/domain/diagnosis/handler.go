package diagnosis

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/domain/encounter"
	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/internal/platform/inference"
	"github.com/neuronova/emr/pkg/pagination"
)

// EncounterSource loads the encounter a prediction is attached to.
type EncounterSource interface {
	GetEncounter(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Handler struct {
	svc        *Service
	encounters EncounterSource
	patients   auth.PatientDirectory
	authz      *auth.Enforcer

	requestLimit []echo.MiddlewareFunc
}

func NewHandler(svc *Service, encounters EncounterSource, patients auth.PatientDirectory, authz *auth.Enforcer) *Handler {
	return &Handler{svc: svc, encounters: encounters, patients: patients, authz: authz}
}

// WithRequestLimit guards POST /predictions, which calls the classifier.
func (h *Handler) WithRequestLimit(mw echo.MiddlewareFunc) *Handler {
	h.requestLimit = append(h.requestLimit, mw)
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	authed := auth.RequireAuthenticated()
	api.POST("/predictions", h.RequestPrediction, append([]echo.MiddlewareFunc{authed}, h.requestLimit...)...)
	api.GET("/predictions/:id", h.GetPrediction, authed)
	api.DELETE("/predictions/:id", h.DeletePrediction, authed)
	api.POST("/predictions/:id/confirm", h.ConfirmPrediction, authed)
	api.GET("/patients/:id/predictions", h.ListByPatient, authed)
	api.GET("/encounters/:id/predictions", h.ListByEncounter, authed)
}

func (h *Handler) RequestPrediction(c echo.Context) error {
	var req StudyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	enc, ref, err := h.encounterRef(c, req.EncounterID)
	if err != nil {
		return err
	}
	res := auth.Resource{Type: auth.ResourcePrediction, Patient: ref}
	if _, err := h.authz.Check(c, res, auth.ActionCreate); err != nil {
		return err
	}
	caller := auth.IdentityFromContext(c.Request().Context())
	p, err := h.svc.Request(c.Request().Context(), enc, req, caller.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, h.svc.View(p))
}

func (h *Handler) GetPrediction(c echo.Context) error {
	p, err := h.authorized(c, auth.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.View(p))
}

// DeletePrediction always refuses; AI results are part of the medical
// record.
func (h *Handler) DeletePrediction(c echo.Context) error {
	if _, err := h.authorized(c, auth.ActionDelete); err != nil {
		return err
	}
	return echo.NewHTTPError(http.StatusMethodNotAllowed, "predictions cannot be deleted")
}

func (h *Handler) ConfirmPrediction(c echo.Context) error {
	p, err := h.authorized(c, auth.ActionConfirm)
	if err != nil {
		return err
	}
	var r Review
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ReviewerUserID = auth.IdentityFromContext(c.Request().Context()).ID
	confirmed, err := h.svc.Confirm(c.Request().Context(), p, r)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, h.svc.View(confirmed))
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
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePrediction, Patient: ref}, auth.ActionRead); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(h.views(items), total, pg.Limit, pg.Offset))
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
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePrediction, Patient: ref}, auth.ActionRead); err != nil {
		return err
	}
	items, err := h.svc.ListByEncounter(c.Request().Context(), encounterID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.views(items))
}

func (h *Handler) views(items []*Prediction) []View {
	out := make([]View, 0, len(items))
	for _, p := range items {
		out = append(out, h.svc.View(p))
	}
	return out
}

// authorized loads the prediction named by :id and checks act against it.
func (h *Handler) authorized(c echo.Context, act auth.Action) (*Prediction, error) {
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
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrAlreadyConfirmed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, inference.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inference service unavailable")
	case errors.Is(err, ErrInvalidResult):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
