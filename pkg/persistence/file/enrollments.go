package file

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

type enrollmentDoc = models.CadenceEnrollment

type enrollmentRepository struct {
	p    *Persistence
	docs collection[enrollmentDoc]
}

func (r *enrollmentRepository) CreateEnrollment(_ context.Context, enrollment *models.CadenceEnrollment) (*models.CadenceEnrollment, bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	existing, err := r.open(enrollment.TenantID, enrollment.ProgramKind, enrollment.ProgramID, enrollment.EntityID)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateEnrollment", "enrollment", enrollment.ID, err)
	}

	if existing != nil {
		return existing, false, nil
	}

	if err := r.docs.put(enrollment.ID, enrollment); err != nil {
		return nil, false, persistence.NewRecordError("CreateEnrollment", "enrollment", enrollment.ID, err)
	}

	return enrollment, true, nil
}

func (r *enrollmentRepository) SaveEnrollment(_ context.Context, enrollment *models.CadenceEnrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := r.docs.put(enrollment.ID, enrollment); err != nil {
		return persistence.NewRecordError("SaveEnrollment", "enrollment", enrollment.ID, err)
	}

	return nil
}

func (r *enrollmentRepository) EnrollmentByID(_ context.Context, id string) (*models.CadenceEnrollment, error) {
	enrollment, err := r.docs.get(id)
	if err != nil {
		return nil, persistence.NewRecordError("EnrollmentByID", "enrollment", id, err)
	}

	if enrollment == nil {
		return nil, persistence.NewRecordError("EnrollmentByID", "enrollment", id, persistence.ErrEnrollmentNotFound)
	}

	return enrollment, nil
}

func (r *enrollmentRepository) OpenEnrollment(_ context.Context, tenantID string, kind models.ProgramKind, programID, entityID string) (*models.CadenceEnrollment, error) {
	enrollment, err := r.open(tenantID, kind, programID, entityID)
	if err != nil {
		return nil, persistence.NewRecordError("OpenEnrollment", "enrollment", "", err)
	}

	if enrollment == nil {
		return nil, persistence.NewRecordError("OpenEnrollment", "enrollment", "", persistence.ErrEnrollmentNotFound)
	}

	return enrollment, nil
}

func (r *enrollmentRepository) open(tenantID string, kind models.ProgramKind, programID, entityID string) (*models.CadenceEnrollment, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, err
	}

	for _, e := range all {
		if e.TenantID == tenantID && e.ProgramKind == kind && e.ProgramID == programID && e.EntityID == entityID && e.Status.Open() {
			return e, nil
		}
	}

	return nil, nil
}

func (r *enrollmentRepository) DueEnrollments(_ context.Context, now time.Time, n int) ([]*models.CadenceEnrollment, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("DueEnrollments", "enrollment", "", err)
	}

	due := make([]*models.CadenceEnrollment, 0)

	for _, e := range all {
		if e.Status == models.EnrollmentActive && e.NextStepAt != nil && !e.NextStepAt.After(now) {
			due = append(due, e)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].NextStepAt.Before(*due[j].NextStepAt) })

	return limit(due, n), nil
}

func (r *enrollmentRepository) Enrollments(_ context.Context, filter persistence.EnrollmentFilter) ([]*models.CadenceEnrollment, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("Enrollments", "enrollment", "", err)
	}

	out := make([]*models.CadenceEnrollment, 0, len(all))

	for _, e := range all {
		switch {
		case filter.TenantID != "" && e.TenantID != filter.TenantID,
			filter.ProgramKind != "" && e.ProgramKind != filter.ProgramKind,
			filter.ProgramID != "" && e.ProgramID != filter.ProgramID,
			filter.EntityID != "" && e.EntityID != filter.EntityID,
			len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, e.Status):
			continue
		}

		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })

	return limit(out, filter.Limit), nil
}
