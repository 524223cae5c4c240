package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

var (
	ErrNotFound = errors.New("not found")

	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrReminderNotFound    = fmt.Errorf("reminder %w", ErrNotFound)

	// ErrDuplicateID is returned by inserts whose identifier is already taken.
	ErrDuplicateID = errors.New("duplicate id")
)

// PatientQuery narrows a patient search. First and last name are required,
// the rest disambiguate between namesakes.
type PatientQuery struct {
	FirstName   string
	LastName    string
	DateOfBirth *time.Time
	Phone       string
}

// DirectoryRepository stores doctors and patients.
type DirectoryRepository interface {
	CreateDoctor(ctx context.Context, d *Doctor) error
	UpdateDoctor(ctx context.Context, d *Doctor) error
	GetDoctorByID(ctx context.Context, id string) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	DeleteDoctor(ctx context.Context, id string) error

	CreatePatient(ctx context.Context, p *Patient) error
	UpdatePatient(ctx context.Context, p *Patient) error
	GetPatientByID(ctx context.Context, id string) (*Patient, error)
	FindPatientsByName(ctx context.Context, firstName, lastName string) ([]Patient, error)
}

// LedgerRepository stores reservations. It does no conflict checking of its
// own; the Ledger serialises check and write.
type LedgerRepository interface {
	InsertReservation(ctx context.Context, r *Reservation) error
	ListActiveReservations(ctx context.Context, doctorID string, date time.Time) ([]Reservation, error)
	// ReleaseReservation flips an active reservation to released. Unknown or
	// already released tokens yield ErrReservationNotFound.
	ReleaseReservation(ctx context.Context, token string, at time.Time) error
}

// AppointmentRepository stores appointments, their reminders and the event log.
type AppointmentRepository interface {
	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id string) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, from, to AppointmentStatus, at time.Time) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID string) ([]Appointment, error)
	ListConfirmedByDoctor(ctx context.Context, doctorID string) ([]Appointment, error)
	ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]Appointment, error)

	InsertReminders(ctx context.Context, reminders []Reminder) error
	ListReminders(ctx context.Context, appointmentID string) ([]Reminder, error)
	// CancelScheduledReminders moves Scheduled reminders of the appointment to
	// Cancelled, leaving Sent ones alone, and returns how many changed.
	CancelScheduledReminders(ctx context.Context, appointmentID string) (int, error)
	FindDueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	DirectoryRepository
	LedgerRepository
	AppointmentRepository
}

func overlaps(aStart, aEnd, bStart, bEnd timegrid.Minute) bool {
	return aStart < bEnd && bStart < aEnd
}
