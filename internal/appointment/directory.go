package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

func (s *Service) CreateDoctor(ctx context.Context, d Doctor) (*Doctor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	d.ID = newEntityID()
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := s.repo.CreateDoctor(ctx, &d); err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	return &d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	return s.repo.GetDoctorByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// UpdateDoctor replaces a doctor's details. Existing appointments are left
// Confirmed even if the new schedule no longer covers them; those are
// returned and logged for manual review.
func (s *Service) UpdateDoctor(ctx context.Context, d Doctor) (*Doctor, []Appointment, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	existing, err := s.repo.GetDoctorByID(ctx, d.ID)
	if err != nil {
		return nil, nil, err
	}

	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = s.now()
	if err := s.repo.UpdateDoctor(ctx, &d); err != nil {
		return nil, nil, fmt.Errorf("update doctor: %w", err)
	}

	confirmed, err := s.repo.ListConfirmedByDoctor(ctx, d.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list doctor appointments: %w", err)
	}

	var affected []Appointment
	for _, a := range confirmed {
		if fitsSchedule(&d, a) {
			continue
		}
		affected = append(affected, a)
		s.logEvent(ctx, a.ID, EventAppointmentNeedsReview, map[string]any{
			"doctor_id": d.ID,
			"reason":    "schedule_changed",
		})
	}

	if len(affected) > 0 {
		log.Warn().Str("doctor_id", d.ID).Int("appointments", len(affected)).
			Msg("schedule change leaves confirmed appointments outside working hours")
	}

	return &d, affected, nil
}

func fitsSchedule(d *Doctor, a Appointment) bool {
	if !d.Days.Works(timegrid.WeekdayShortName(a.Date)) {
		return false
	}
	if a.Start < d.WorkStart || a.End() > d.WorkEnd {
		return false
	}
	return !overlaps(a.Start, a.End(), d.LunchStart, d.LunchEnd)
}

// DeleteDoctor removes a doctor that has no Confirmed appointments.
func (s *Service) DeleteDoctor(ctx context.Context, id string) error {
	if _, err := s.repo.GetDoctorByID(ctx, id); err != nil {
		return err
	}

	confirmed, err := s.repo.ListConfirmedByDoctor(ctx, id)
	if err != nil {
		return fmt.Errorf("list doctor appointments: %w", err)
	}
	if len(confirmed) > 0 {
		return fmt.Errorf("%w: %d still booked", ErrDoctorHasAppointments, len(confirmed))
	}

	return s.repo.DeleteDoctor(ctx, id)
}

func (s *Service) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p.ID = newEntityID()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.repo.CreatePatient(ctx, &p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return &p, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return s.repo.GetPatientByID(ctx, id)
}

// UpdatePatient replaces contact, insurance and visit details.
func (s *Service) UpdatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetPatientByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	if err := s.repo.UpdatePatient(ctx, &p); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	return &p, nil
}

// SearchPatients finds patients by name. When several share the name, date
// of birth and then phone narrow the result. The bool reports whether the
// match is unique.
func (s *Service) SearchPatients(ctx context.Context, q PatientQuery) ([]Patient, bool, error) {
	if normalizeName(q.FirstName) == "" || normalizeName(q.LastName) == "" {
		return nil, false, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}

	matches, err := s.repo.FindPatientsByName(ctx, q.FirstName, q.LastName)
	if err != nil {
		return nil, false, fmt.Errorf("find patients: %w", err)
	}
	if len(matches) <= 1 {
		return matches, len(matches) == 1, nil
	}

	if q.DateOfBirth != nil {
		if byDOB := filterPatients(matches, func(p Patient) bool {
			return timegrid.Day(p.DateOfBirth).Equal(timegrid.Day(*q.DateOfBirth))
		}); len(byDOB) == 1 {
			return byDOB, true, nil
		}
	}
	if q.Phone != "" {
		if byPhone := filterPatients(matches, func(p Patient) bool {
			return p.Phone == q.Phone
		}); len(byPhone) == 1 {
			return byPhone, true, nil
		}
	}

	return matches, false, nil
}

func filterPatients(in []Patient, keep func(Patient) bool) []Patient {
	var out []Patient
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsNotFound reports whether err means a referenced record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyCancelled)
}
