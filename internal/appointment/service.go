package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentNeedsReview = "APPOINTMENT_NEEDS_REVIEW"
)

const maxIDAttempts = 5

var (
	ErrSlotConflict           = errors.New("slot is no longer available")
	ErrSlotBeingBooked        = fmt.Errorf("%w: slot is currently being booked, please retry", ErrSlotConflict)
	ErrAlreadyCancelled       = fmt.Errorf("appointment already cancelled: %w", ErrNotFound)
	ErrInvalidSchedule        = errors.New("invalid doctor schedule")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnknownAppointmentType = fmt.Errorf("%w: unknown appointment type", ErrInvalidInput)
	ErrDoctorHasAppointments  = errors.New("doctor has confirmed appointments")
	ErrIDSpaceExhausted       = errors.New("could not mint a unique appointment id")
)

// BookRequest carries a patient's slot selection. Duration overrides the
// type's standard length when positive.
type BookRequest struct {
	PatientID string
	DoctorID  string
	Date      time.Time
	Start     timegrid.Minute
	Type      AppointmentType
	Duration  int
	Notes     string
}

// Service is the scheduling façade used by the HTTP layer and workers.
type Service struct {
	repo    Repository
	ledger  *Ledger
	cfg     config.Config
	metrics *metrics.SchedulingMetrics

	now   func() time.Time
	newID func() string
}

func NewService(repo Repository, ledger *Ledger, cfg config.Config, m *metrics.SchedulingMetrics) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		newID:   newAppointmentID,
	}
}

func newAppointmentID() string {
	return fmt.Sprintf("APT%08d", rand.IntN(100_000_000))
}

func (s *Service) slotStep() int {
	if s.cfg.SlotStep > 0 {
		return s.cfg.SlotStep
	}
	return DefaultSlotStep
}

// AvailableSlots lists the start times at which a new appointment of the
// given duration fits the doctor's day without overlapping any booking.
func (s *Service) AvailableSlots(ctx context.Context, doctorID string, date time.Time, duration int) ([]timegrid.Minute, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	day := timegrid.Day(date)
	candidates := GenerateCandidateSlots(doctor, day, duration, s.slotStep())
	if len(candidates) == 0 {
		s.metrics.ObserveSlotQuery(0)
		return []timegrid.Minute{}, nil
	}

	busy, err := s.ledger.Occupied(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	free := make([]timegrid.Minute, 0, len(candidates))
	for _, start := range candidates {
		end := start + timegrid.Minute(duration)
		taken := false
		for _, r := range busy {
			if overlaps(start, end, r.Start, r.End()) {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, start)
		}
	}

	s.metrics.ObserveSlotQuery(len(free))
	return free, nil
}

// Book re-checks availability, reserves the interval in the ledger, stores
// a Confirmed appointment and its reminders. A positive req.Duration replaces
// the type's standard length; the type must still be known. A slot that is
// no longer free yields ErrSlotConflict; the caller is expected to re-query
// and re-prompt.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	appt, err := s.book(ctx, req)
	if err != nil {
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, err
	}
	s.metrics.ObserveBooking("confirmed")
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookRequest) (*Appointment, error) {
	duration, ok := req.Type.Duration()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAppointmentType, req.Type)
	}
	if req.Duration > 0 {
		duration = req.Duration
	}

	patient, err := s.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	day := timegrid.Day(req.Date)

	free, err := s.AvailableSlots(ctx, doctor.ID, day, duration)
	if err != nil {
		return nil, err
	}
	if !containsMinute(free, req.Start) {
		return nil, fmt.Errorf("%w: %s %s with %s", ErrSlotConflict, timegrid.FormatDate(day), req.Start, doctor.Name)
	}

	token, err := s.ledger.Reserve(ctx, doctor.ID, day, req.Start, duration)
	if err != nil {
		return nil, err
	}

	now := s.now()
	appt := &Appointment{
		PatientID:        patient.ID,
		DoctorID:         doctor.ID,
		Date:             day,
		Start:            req.Start,
		Duration:         duration,
		Type:             req.Type,
		Location:         doctor.Location,
		Status:           StatusConfirmed,
		ReservationToken: token,
		Notes:            req.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.insertWithUniqueID(ctx, appt); err != nil {
		s.releaseQuietly(ctx, token)
		return nil, err
	}

	reminders := BuildReminders(appt, patient, doctor, now)
	if err := s.repo.InsertReminders(ctx, reminders); err != nil {
		if _, updErr := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCancelled, now); updErr != nil {
			log.Error().Err(updErr).Str("appointment_id", appt.ID).Msg("failed to roll back appointment after reminder failure")
		}
		s.releaseQuietly(ctx, token)
		return nil, fmt.Errorf("insert reminders: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id": patient.ID,
		"doctor_id":  doctor.ID,
		"date":       timegrid.FormatDate(day),
		"start":      appt.Start.String(),
		"duration":   duration,
		"type":       string(appt.Type),
	})

	log.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", doctor.ID).
		Str("date", timegrid.FormatDate(day)).
		Str("start", appt.Start.String()).
		Int("duration", duration).
		Msg("appointment booked")

	return appt, nil
}

// insertWithUniqueID mints ids until the store accepts one.
func (s *Service) insertWithUniqueID(ctx context.Context, appt *Appointment) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		appt.ID = s.newID()
		err := s.repo.InsertAppointment(ctx, appt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return fmt.Errorf("insert appointment: %w", err)
		}
		log.Debug().Str("appointment_id", appt.ID).Msg("appointment id collision, retrying")
	}
	return ErrIDSpaceExhausted
}

func (s *Service) releaseQuietly(ctx context.Context, token string) {
	if err := s.ledger.Release(ctx, token); err != nil {
		log.Error().Err(err).Str("token", token).Msg("failed to release reservation")
	}
}

// Cancel moves a Confirmed appointment to Cancelled, frees its ledger
// interval and cancels reminders that have not been sent. The record is kept.
// Calling it again after a partial failure finishes the release and reminder
// cascade.
func (s *Service) Cancel(ctx context.Context, id string) error {
	err := s.cancel(ctx, id)
	switch {
	case err == nil:
		s.metrics.ObserveCancellation("cancelled")
	case errors.Is(err, ErrAlreadyCancelled):
		s.metrics.ObserveCancellation("already_cancelled")
	case errors.Is(err, ErrNotFound):
		s.metrics.ObserveCancellation("not_found")
	default:
		s.metrics.ObserveCancellation("error")
	}
	return err
}

func (s *Service) cancel(ctx context.Context, id string) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == StatusCancelled {
		return s.finishCancel(ctx, appt, true)
	}

	now := s.now()
	if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusConfirmed, StatusCancelled, now); err != nil {
		// Lost a race with another cancel.
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrAlreadyCancelled
		}
		return fmt.Errorf("cancel appointment: %w", err)
	}

	return s.finishCancel(ctx, appt, false)
}

// finishCancel releases the ledger interval and cancels pending reminders of
// an appointment already marked Cancelled. With resume set it completes a
// cancel that failed part way, and reports ErrAlreadyCancelled when there was
// nothing left to do.
func (s *Service) finishCancel(ctx context.Context, appt *Appointment, resume bool) error {
	released := true
	if err := s.ledger.Release(ctx, appt.ReservationToken); err != nil {
		if !errors.Is(err, ErrReservationNotFound) {
			return err
		}
		released = false
		if !resume {
			log.Warn().Str("appointment_id", appt.ID).Msg("reservation already released")
		}
	}

	n, err := s.repo.CancelScheduledReminders(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}

	if resume && !released && n == 0 {
		return ErrAlreadyCancelled
	}

	payload := map[string]any{"reminders_cancelled": n}
	if resume {
		payload["resumed"] = true
		log.Warn().Str("appointment_id", appt.ID).Bool("released", released).Int("reminders_cancelled", n).
			Msg("completed interrupted cancellation")
	}
	s.logEvent(ctx, appt.ID, EventAppointmentCancelled, payload)

	return nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id string) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	detail := &AppointmentDetail{Appointment: *appt}

	if detail.Patient, err = s.repo.GetPatientByID(ctx, appt.PatientID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get appointment patient: %w", err)
	}
	if detail.Doctor, err = s.repo.GetDoctorByID(ctx, appt.DoctorID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get appointment doctor: %w", err)
	}
	if detail.Reminders, err = s.repo.ListReminders(ctx, appt.ID); err != nil {
		return nil, fmt.Errorf("get appointment reminders: %w", err)
	}

	return detail, nil
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

func (s *Service) ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	appts, err := s.repo.ListAppointmentsByDoctorDate(ctx, doctorID, timegrid.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

func (s *Service) ListReminders(ctx context.Context, appointmentID string) ([]Reminder, error) {
	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.ListReminders(ctx, appointmentID)
}

func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func containsMinute(list []timegrid.Minute, m timegrid.Minute) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func newEntityID() string {
	return uuid.NewString()
}
