package auth

import (
	"context"
	"fmt"
)

// rule decides one (resource type, role) cell of the policy table.
type rule func(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error)

// policyTable holds the resource-specific rules. Admins never reach it and
// a missing cell means the role has no access to the resource type.
var policyTable = map[ResourceType]map[Role]rule{
	ResourcePatient: {
		RoleDoctor:  clinicianRecordRule(false),
		RoleNurse:   clinicianRecordRule(true),
		RolePatient: patientOwnRule(ActionRead, ActionUpdate),
	},
	ResourceEncounter: {
		RoleDoctor:  doctorEncounterRule,
		RoleNurse:   clinicianRecordRule(true),
		RolePatient: patientOwnRule(ActionRead),
	},
	ResourceAppointment: {
		RoleDoctor:  clinicianAppointmentRule,
		RoleNurse:   clinicianAppointmentRule,
		RolePatient: patientAppointmentRule,
	},
	ResourcePrediction: {
		RoleDoctor: doctorPredictionRule,
	},
	ResourcePrescription: {
		RoleDoctor:  doctorPrescriptionRule,
		RoleNurse:   readOnlyRule,
		RolePatient: patientOwnRule(ActionRead),
	},
	ResourceCareAssignment: {
		RoleDoctor: ownAssignmentRule,
		RoleNurse:  ownAssignmentRule,
	},
}

// Evaluator is the policy decision point. It reads role, relationship and
// resource state and never mutates any of them.
type Evaluator struct {
	resolver *Resolver
}

func NewEvaluator(assignments AssignmentChecker) *Evaluator {
	return &Evaluator{resolver: NewResolver(assignments)}
}

// Resolver exposes the relationship resolver the evaluator uses.
func (e *Evaluator) Resolver() *Resolver { return e.resolver }

// Authorize decides whether id may perform act on res. Denials are returned
// as values. A non-nil error accompanies a deny only for malformed input or
// when the relationship lookup failed.
func (e *Evaluator) Authorize(ctx context.Context, id *Identity, res Resource, act Action) (Decision, error) {
	if !id.Authenticated() {
		return deny(ReasonNotAuthenticated), nil
	}
	if !id.Role.Valid() {
		return deny(ReasonRoleForbidden), fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, id.Role)
	}
	if !res.Type.valid() {
		return deny(ReasonRoleForbidden), fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, res.Type)
	}
	if !act.Valid() {
		return deny(ReasonRoleForbidden), fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, act)
	}

	// Clinical records are append-only; this holds for admins too.
	if act == ActionDelete && res.Type.IsClinicalData() {
		return deny(ReasonDeleteForbidden), nil
	}
	if id.IsAdmin() {
		return allow(), nil
	}

	r, ok := policyTable[res.Type][id.Role]
	if !ok {
		return deny(ReasonRoleForbidden), nil
	}
	return r(ctx, e, id, res, act)
}

func (e *Evaluator) careTeam(ctx context.Context, id *Identity, res Resource, d Decision) (Decision, error) {
	ok, err := e.resolver.IsCareTeamMember(ctx, id, res.Patient)
	if err != nil {
		return deny(ReasonNotCareTeam), err
	}
	if !ok {
		return deny(ReasonNotCareTeam), nil
	}
	return d, nil
}

func (e *Evaluator) activeAssignment(ctx context.Context, id *Identity, res Resource) (Decision, error) {
	ok, err := e.resolver.HasActiveAssignment(ctx, id, res.Patient)
	if err != nil {
		return deny(ReasonNotCareTeam), err
	}
	if !ok {
		return deny(ReasonNotCareTeam), nil
	}
	return allow(), nil
}

// clinicianRecordRule lets care-team clinicians read and update. Nurse
// updates come back restricted to the nursing field subset.
func clinicianRecordRule(restrictUpdates bool) rule {
	return func(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
		switch act {
		case ActionRead:
			return e.careTeam(ctx, id, res, allow())
		case ActionUpdate:
			if restrictUpdates {
				return e.careTeam(ctx, id, res, allowRestricted())
			}
			return e.careTeam(ctx, id, res, allow())
		}
		return deny(ReasonRoleForbidden), nil
	}
}

// patientOwnRule confines patients to their own records and to the listed
// actions on them.
func patientOwnRule(allowed ...Action) rule {
	return func(_ context.Context, _ *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
		if res.Patient.UserID != id.ID {
			return deny(ReasonPatientSelfOnly), nil
		}
		for _, a := range allowed {
			if a == act {
				return allow(), nil
			}
		}
		return deny(ReasonRoleForbidden), nil
	}
}

func doctorEncounterRule(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	switch act {
	case ActionCreate, ActionRead, ActionUpdate:
		return e.careTeam(ctx, id, res, allow())
	}
	return deny(ReasonRoleForbidden), nil
}

func appointmentMutable(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// clinicianAppointmentRule lets doctors and nurses read and book any
// appointment. Changing one needs the appointment assigned to them or a
// care-team relationship, and only while it is pending or confirmed.
func clinicianAppointmentRule(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	switch act {
	case ActionCreate, ActionRead:
		return allow(), nil
	}
	if !res.assignedTo(id.ID) {
		d, err := e.careTeam(ctx, id, res, allow())
		if err != nil || !d.Allowed {
			return d, err
		}
	}
	if !appointmentMutable(res.Status) {
		return deny(ReasonStatusLocked), nil
	}
	return allow(), nil
}

func patientAppointmentRule(_ context.Context, _ *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	if res.Patient.UserID != id.ID {
		return deny(ReasonPatientSelfOnly), nil
	}
	switch act {
	case ActionCreate, ActionRead:
		return allow(), nil
	case ActionUpdate, ActionDelete:
		if res.Status != StatusPending {
			return deny(ReasonStatusLocked), nil
		}
		return allow(), nil
	}
	return deny(ReasonRoleForbidden), nil
}

// doctorPredictionRule: care-team doctors may request and read AI results;
// sign-off needs an explicit active assignment.
func doctorPredictionRule(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	switch act {
	case ActionCreate, ActionRead:
		return e.careTeam(ctx, id, res, allow())
	case ActionUpdate, ActionConfirm:
		return e.activeAssignment(ctx, id, res)
	}
	return deny(ReasonRoleForbidden), nil
}

func doctorPrescriptionRule(ctx context.Context, e *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	switch act {
	case ActionCreate, ActionRead, ActionUpdate:
		return e.careTeam(ctx, id, res, allow())
	}
	return deny(ReasonRoleForbidden), nil
}

func readOnlyRule(_ context.Context, _ *Evaluator, _ *Identity, _ Resource, act Action) (Decision, error) {
	if act == ActionRead {
		return allow(), nil
	}
	return deny(ReasonRoleForbidden), nil
}

func ownAssignmentRule(_ context.Context, _ *Evaluator, id *Identity, res Resource, act Action) (Decision, error) {
	if act != ActionRead {
		return deny(ReasonRoleForbidden), nil
	}
	if !res.assignedTo(id.ID) {
		return deny(ReasonNotCareTeam), nil
	}
	return allow(), nil
}
