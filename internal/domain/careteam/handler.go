package careteam

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/pkg/pagination"
)

type Handler struct {
	svc   *Service
	authz *auth.Enforcer
}

func NewHandler(svc *Service, authz *auth.Enforcer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireRole(auth.RoleAdmin)
	api.GET("/care-assignments", h.ListByPatient, admin)
	api.POST("/care-assignments/:id/primary", h.MakePrimary, admin)

	clinician := auth.RequireRole(auth.RoleDoctor, auth.RoleNurse)
	api.GET("/care-assignments/mine", h.ListMine, clinician)

	authed := auth.RequireAuthenticated()
	api.POST("/care-assignments", h.Assign, authed)
	api.GET("/care-assignments/:id", h.Get, authed)
	api.DELETE("/care-assignments/:id", h.Deactivate, authed)
}

func (h *Handler) Assign(c echo.Context) error {
	var a CareAssignment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := h.authz.Check(c, a.Resource(), auth.ActionCreate); err != nil {
		return err
	}
	if err := h.svc.Assign(c.Request().Context(), &a); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, a.Resource(), auth.ActionRead); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Deactivate(c echo.Context) error {
	a, err := h.load(c)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, a.Resource(), auth.ActionDelete); err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), a.ID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MakePrimary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.MakePrimary(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	activeOnly := c.QueryParam("include_inactive") != "true"
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMine(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByMember(c.Request().Context(), id.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) load(c echo.Context) (*CareAssignment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "care assignment not found")
	case errors.Is(err, auth.ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
