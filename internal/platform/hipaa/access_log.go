// Package hipaa persists the patient-data access trail and serves it to
// administrators.
package hipaa

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neuronova/emr/internal/platform/middleware"
)

// AccessRecord is one stored access to patient data.
type AccessRecord struct {
	ID           uuid.UUID  `json:"id"`
	RequestID    string     `json:"request_id,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Role         string     `json:"role,omitempty"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id,omitempty"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	Action       string     `json:"action"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	StatusCode   int        `json:"status_code"`
	IPAddress    *string    `json:"ip_address,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	AccessedAt   time.Time  `json:"accessed_at"`
}

// Denied reports whether the request was refused.
func (r *AccessRecord) Denied() bool {
	return r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden
}

// AccessQuery filters the access trail. Zero fields match everything.
type AccessQuery struct {
	UserID       *uuid.UUID
	PatientID    *uuid.UUID
	ResourceType string
	Action       string
	DeniedOnly   bool
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// AccessStore persists and searches access records.
type AccessStore interface {
	Record(ctx context.Context, r *AccessRecord) error
	Search(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error)
}

// Recorder adapts an AccessStore to the audit middleware.
type Recorder struct {
	store   AccessStore
	timeout time.Duration
}

func NewRecorder(store AccessStore) *Recorder {
	return &Recorder{store: store, timeout: 2 * time.Second}
}

// RecordAccess stores entry. The write outlives a cancelled request so
// aborted calls still leave a trail.
func (r *Recorder) RecordAccess(ctx context.Context, entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	rec := FromAuditEntry(entry)
	if err := r.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("record access %s %s: %w", entry.Method, entry.Path, err)
	}
	return nil
}

// FromAuditEntry converts a middleware entry into a storable record.
// Malformed ids and addresses are dropped rather than rejected.
func FromAuditEntry(e middleware.AuditEntry) *AccessRecord {
	rec := &AccessRecord{
		RequestID:    e.RequestID,
		UserID:       parseOptionalUUID(e.UserID),
		Role:         e.Role,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		PatientID:    parseOptionalUUID(e.PatientID),
		Action:       e.Action,
		Method:       e.Method,
		Path:         e.Path,
		StatusCode:   e.StatusCode,
		UserAgent:    e.UserAgent,
		AccessedAt:   e.Timestamp,
	}
	if ip := net.ParseIP(e.IPAddress); ip != nil {
		s := ip.String()
		rec.IPAddress = &s
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	return rec
}

func parseOptionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}
