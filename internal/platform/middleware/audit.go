package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/neuronova/emr/internal/platform/auth"
)

// AuditEntry records who touched which patient data, and how.
type AuditEntry struct {
	UserID       string
	Role         string
	ResourceType string
	ResourceID   string
	PatientID    string
	Action       string
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries beyond the log stream.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// pathResources maps /api/v1 collection segments to audited resource types.
var pathResources = map[string]auth.ResourceType{
	"patients":         auth.ResourcePatient,
	"encounters":       auth.ResourceEncounter,
	"appointments":     auth.ResourceAppointment,
	"predictions":      auth.ResourcePrediction,
	"prescriptions":    auth.ResourcePrescription,
	"care-assignments": auth.ResourceCareAssignment,
}

// Audit emits a phi_access log line for every request to a patient-data
// route under /api/v1, after the handler ran so the status is known.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resourceType, resourceID, ok := auditTarget(req.URL.Path)
			if !ok {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, isHTTP := err.(*echo.HTTPError); isHTTP && !c.Response().Committed {
				status = he.Code
			}

			ctx := req.Context()
			action, _ := auth.ActionForMethod(req.Method)
			entry := AuditEntry{
				UserID:       auth.UserIDFromContext(ctx),
				Role:         string(auth.RoleFromContext(ctx)),
				ResourceType: string(resourceType),
				ResourceID:   resourceID,
				PatientID:    extractPatientID(c, resourceType, resourceID),
				Action:       string(action),
				IPAddress:    c.RealIP(),
				UserAgent:    req.UserAgent(),
				Path:         req.URL.Path,
				Method:       req.Method,
				Timestamp:    time.Now().UTC(),
				StatusCode:   status,
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(ctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

// auditTarget returns the resource type and, when present, the id segment
// of an /api/v1 patient-data path.
func auditTarget(path string) (auth.ResourceType, string, bool) {
	if !strings.HasPrefix(path, "/api/v1/") {
		return "", "", false
	}
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	rt, ok := pathResources[segments[0]]
	if !ok {
		return "", "", false
	}
	if len(segments) > 1 && isUUIDLike(segments[1]) {
		return rt, segments[1], true
	}
	return rt, "", true
}

// extractPatientID finds the patient a request concerns: the id of a
// /patients/<id> path, else the patient_id query parameter.
func extractPatientID(c echo.Context, rt auth.ResourceType, resourceID string) string {
	if rt == auth.ResourcePatient && resourceID != "" {
		return resourceID
	}
	if p := c.QueryParam("patient_id"); isUUIDLike(p) {
		return p
	}
	return ""
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
