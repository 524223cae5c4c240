package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type PatientType string

const (
	PatientNew       PatientType = "new"
	PatientReturning PatientType = "returning"
)

type AppointmentType string

const (
	TypeInitialConsultation AppointmentType = "Initial Consultation"
	TypeFollowUp            AppointmentType = "Follow-up"
	TypeAllergyTesting      AppointmentType = "Allergy Testing"
)

var appointmentDurations = map[AppointmentType]int{
	TypeInitialConsultation: 60,
	TypeFollowUp:            30,
	TypeAllergyTesting:      45,
}

// Duration returns the fixed length in minutes for a known appointment type.
func (t AppointmentType) Duration() (int, bool) {
	d, ok := appointmentDurations[t]
	return d, ok
}

// ParseAppointmentType matches s against the known types, ignoring case.
func ParseAppointmentType(s string) (AppointmentType, error) {
	for t := range appointmentDurations {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAppointmentType, s)
}

// DefaultAppointmentType is the type a caller should offer when the user
// did not pick one: new patients get the long initial visit.
func DefaultAppointmentType(pt PatientType) AppointmentType {
	if pt == PatientNew {
		return TypeInitialConsultation
	}
	return TypeFollowUp
}

type ReminderState string

const (
	ReminderScheduled ReminderState = "scheduled"
	ReminderSent      ReminderState = "sent"
	ReminderCancelled ReminderState = "cancelled"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// WorkingDays flags the weekdays a doctor sees patients. Weekends are never
// working days.
type WorkingDays struct {
	Mon bool `json:"mon"`
	Tue bool `json:"tue"`
	Wed bool `json:"wed"`
	Thu bool `json:"thu"`
	Fri bool `json:"fri"`
}

// Works reports whether the doctor works on the weekday named by short
// (Mon..Sun).
func (w WorkingDays) Works(short string) bool {
	switch short {
	case "Mon":
		return w.Mon
	case "Tue":
		return w.Tue
	case "Wed":
		return w.Wed
	case "Thu":
		return w.Thu
	case "Fri":
		return w.Fri
	}
	return false
}

type Doctor struct {
	ID         string
	Name       string
	Specialty  string
	Location   string
	Days       WorkingDays
	WorkStart  timegrid.Minute
	WorkEnd    timegrid.Minute
	LunchStart timegrid.Minute
	LunchEnd   timegrid.Minute
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks required fields and the ordering
// work start < lunch start <= lunch end < work end.
func (d *Doctor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: doctor name is required", ErrInvalidInput)
	}
	return d.ValidateSchedule()
}

func (d *Doctor) ValidateSchedule() error {
	for _, m := range []timegrid.Minute{d.WorkStart, d.WorkEnd, d.LunchStart, d.LunchEnd} {
		if m < 0 || m >= timegrid.MinutesPerDay {
			return fmt.Errorf("%w: time %d outside the day", ErrInvalidSchedule, int(m))
		}
	}
	if !(d.WorkStart < d.LunchStart && d.LunchStart <= d.LunchEnd && d.LunchEnd < d.WorkEnd) {
		return fmt.Errorf("%w: need work start < lunch start <= lunch end < work end, got %s-%s lunch %s-%s",
			ErrInvalidSchedule, d.WorkStart, d.WorkEnd, d.LunchStart, d.LunchEnd)
	}
	return nil
}

type Insurance struct {
	Company     string
	MemberID    string
	GroupNumber string
}

type Patient struct {
	ID          string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Phone       string
	Email       string
	Insurance   Insurance
	Type        PatientType
	LastVisit   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Patient) Validate() error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: patient first and last name are required", ErrInvalidInput)
	}
	if p.DateOfBirth.IsZero() {
		return fmt.Errorf("%w: patient date of birth is required", ErrInvalidInput)
	}
	switch p.Type {
	case PatientNew, PatientReturning:
	default:
		return fmt.Errorf("%w: patient type must be %q or %q", ErrInvalidInput, PatientNew, PatientReturning)
	}
	return nil
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Reservation is one ledger entry: a doctor's interval on a calendar day.
type Reservation struct {
	Token      string
	DoctorID   string
	Date       time.Time
	Start      timegrid.Minute
	Duration   int
	Released   bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

func (r Reservation) End() timegrid.Minute {
	return r.Start + timegrid.Minute(r.Duration)
}

type Appointment struct {
	ID               string
	PatientID        string
	DoctorID         string
	Date             time.Time
	Start            timegrid.Minute
	Duration         int
	Type             AppointmentType
	Location         string
	Status           AppointmentStatus
	ReservationToken string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CancelledAt      *time.Time
}

func (a Appointment) End() timegrid.Minute {
	return a.Start + timegrid.Minute(a.Duration)
}

// StartsAt is the appointment start as an instant (UTC, no zone handling).
func (a Appointment) StartsAt() time.Time {
	return timegrid.At(a.Date, a.Start)
}

type Reminder struct {
	ID            string
	AppointmentID string
	Milestone     string
	FireAt        time.Time
	Channel       Channel
	Message       string
	State         ReminderState
	CreatedAt     time.Time
	SentAt        *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *string
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Patient   *Patient
	Doctor    *Doctor
	Reminders []Reminder
}
