package hipaa

import (
	"encoding/csv"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/pkg/pagination"
)

const (
	// maxExportRows bounds a single export.
	maxExportRows   = 10000
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handler serves the access trail to administrators.
type Handler struct {
	store AccessStore
}

func NewHandler(store AccessStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireRole(auth.RoleAdmin)
	api.GET("/audit/access", h.SearchAccess, admin)
	api.GET("/audit/access/export", h.ExportAccess, admin)
}

func (h *Handler) SearchAccess(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	q.Limit, q.Offset = pg.Limit, pg.Offset

	items, total, err := h.store.Search(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ExportAccess writes matching records newest first, as CSV by default or
// as a workbook with format=xlsx.
func (h *Handler) ExportAccess(c echo.Context) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	format := c.QueryParam("format")
	if format != "" && format != "csv" && format != "xlsx" {
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or xlsx")
	}
	q.Limit, q.Offset = maxExportRows, 0

	items, _, err := h.store.Search(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if format == "xlsx" {
		data, err := writeXLSX(items)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="access_log.xlsx"`)
		return c.Blob(http.StatusOK, xlsxContentType, data)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/csv")
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="access_log.csv"`)
	resp.WriteHeader(http.StatusOK)

	w := csv.NewWriter(resp)
	w.Write(exportHeader)
	for _, r := range items {
		w.Write(exportRow(r))
	}
	w.Flush()
	return w.Error()
}

func parseQuery(c echo.Context) (AccessQuery, error) {
	var q AccessQuery
	for name, dst := range map[string]**uuid.UUID{"user_id": &q.UserID, "patient_id": &q.PatientID} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return q, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = &id
		}
	}
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		if v := c.QueryParam(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return q, echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC3339")
			}
			*dst = &t
		}
	}
	if v := c.QueryParam("action"); v != "" {
		if !auth.Action(v).Valid() {
			return q, echo.NewHTTPError(http.StatusBadRequest, "invalid action")
		}
		q.Action = v
	}
	q.ResourceType = c.QueryParam("resource_type")
	q.DeniedOnly = c.QueryParam("denied") == "true"
	return q, nil
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
