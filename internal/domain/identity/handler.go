package identity

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
	api.POST("/profiles", h.CreateProfile, admin)
	api.GET("/patients", h.ListPatients, admin)
	api.POST("/patients/:id/deactivate", h.DeactivatePatient, admin)
	api.POST("/doctors", h.CreateDoctor, admin)

	authed := auth.RequireAuthenticated()
	api.GET("/profiles/me", h.GetMyProfile, authed)
	api.GET("/doctors", h.ListDoctors, authed)
	api.POST("/patients", h.CreatePatient, authed)
	api.GET("/patients/me", h.GetMyPatient, authed)
	api.GET("/patients/:id", h.GetPatient, authed)
	api.PUT("/patients/:id", h.UpdatePatient, authed)
	api.DELETE("/patients/:id", h.DeletePatient, authed)
}

// -- Profiles --

func (h *Handler) CreateProfile(c echo.Context) error {
	var p Profile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProfile(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetMyProfile(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id.ID)
	if err != nil {
		return lookupError(err, "profile not found")
	}
	return c.JSON(http.StatusOK, p)
}

// -- Patients --

func (h *Handler) CreatePatient(c echo.Context) error {
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePatient}, auth.ActionCreate); err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.loadPatient(c)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePatient, Patient: p.Ref()}, auth.ActionRead); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetMyPatient(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatientByUserID(c.Request().Context(), id.ID)
	if err != nil {
		return lookupError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	p, err := h.loadPatient(c)
	if err != nil {
		return err
	}
	d, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePatient, Patient: p.Ref()}, auth.ActionUpdate)
	if err != nil {
		return err
	}
	var u PatientUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.UpdatePatient(c.Request().Context(), p.ID, u, d.Restricted)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

// DeletePatient exists so that hard deletes are answered with an explicit
// denial. Use the deactivate route instead.
func (h *Handler) DeletePatient(c echo.Context) error {
	p, err := h.loadPatient(c)
	if err != nil {
		return err
	}
	if _, err := h.authz.Check(c, auth.Resource{Type: auth.ResourcePatient, Patient: p.Ref()}, auth.ActionDelete); err != nil {
		return err
	}
	return echo.NewHTTPError(http.StatusMethodNotAllowed, "patients are deactivated, not deleted")
}

func (h *Handler) DeactivatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivatePatient(c.Request().Context(), id); err != nil {
		return lookupError(err, "active patient not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) loadPatient(c echo.Context) (*Patient, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return nil, lookupError(err, "patient not found")
	}
	return p, nil
}

// -- Doctors --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("specialty"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset))
}

func lookupError(err error, msg string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
