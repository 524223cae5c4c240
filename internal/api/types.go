package api

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

type DoctorRequest struct {
	Name       string                  `json:"name" validate:"required"`
	Specialty  string                  `json:"specialty"`
	Location   string                  `json:"location"`
	Days       appointment.WorkingDays `json:"days"`
	WorkStart  string                  `json:"work_start" validate:"required"`
	WorkEnd    string                  `json:"work_end" validate:"required"`
	LunchStart string                  `json:"lunch_start" validate:"required"`
	LunchEnd   string                  `json:"lunch_end" validate:"required"`
}

func (r DoctorRequest) toDoctor(id string) (appointment.Doctor, error) {
	d := appointment.Doctor{
		ID:        id,
		Name:      r.Name,
		Specialty: r.Specialty,
		Location:  r.Location,
		Days:      r.Days,
	}

	fields := []struct {
		name string
		raw  string
		dst  *timegrid.Minute
	}{
		{"work_start", r.WorkStart, &d.WorkStart},
		{"work_end", r.WorkEnd, &d.WorkEnd},
		{"lunch_start", r.LunchStart, &d.LunchStart},
		{"lunch_end", r.LunchEnd, &d.LunchEnd},
	}
	for _, f := range fields {
		m, err := timegrid.ParseTime(f.raw)
		if err != nil {
			return appointment.Doctor{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = m
	}

	return d, nil
}

type DoctorResponse struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Specialty  string                  `json:"specialty"`
	Location   string                  `json:"location"`
	Days       appointment.WorkingDays `json:"days"`
	WorkStart  string                  `json:"work_start"`
	WorkEnd    string                  `json:"work_end"`
	LunchStart string                  `json:"lunch_start"`
	LunchEnd   string                  `json:"lunch_end"`
	CreatedAt  time.Time               `json:"created_at"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

func newDoctorResponse(d *appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:         d.ID,
		Name:       d.Name,
		Specialty:  d.Specialty,
		Location:   d.Location,
		Days:       d.Days,
		WorkStart:  d.WorkStart.String(),
		WorkEnd:    d.WorkEnd.String(),
		LunchStart: d.LunchStart.String(),
		LunchEnd:   d.LunchEnd.String(),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type UpdateDoctorResponse struct {
	Doctor      DoctorResponse        `json:"doctor"`
	NeedsReview []AppointmentResponse `json:"needs_review"`
}

type InsuranceDTO struct {
	Company     string `json:"company,omitempty"`
	MemberID    string `json:"member_id,omitempty"`
	GroupNumber string `json:"group_number,omitempty"`
}

type PatientRequest struct {
	FirstName   string       `json:"first_name" validate:"required"`
	LastName    string       `json:"last_name" validate:"required"`
	DateOfBirth string       `json:"date_of_birth" validate:"required"`
	Phone       string       `json:"phone"`
	Email       string       `json:"email" validate:"omitempty,email"`
	Insurance   InsuranceDTO `json:"insurance"`
	Type        string       `json:"patient_type" validate:"required,oneof=new returning"`
	LastVisit   string       `json:"last_visit,omitempty"`
}

func (r PatientRequest) toPatient(id string) (appointment.Patient, error) {
	dob, err := timegrid.ParseDate(r.DateOfBirth)
	if err != nil {
		return appointment.Patient{}, fmt.Errorf("date_of_birth: %w", err)
	}

	p := appointment.Patient{
		ID:          id,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: dob,
		Phone:       r.Phone,
		Email:       r.Email,
		Insurance: appointment.Insurance{
			Company:     r.Insurance.Company,
			MemberID:    r.Insurance.MemberID,
			GroupNumber: r.Insurance.GroupNumber,
		},
		Type: appointment.PatientType(r.Type),
	}

	if r.LastVisit != "" {
		lv, err := timegrid.ParseDate(r.LastVisit)
		if err != nil {
			return appointment.Patient{}, fmt.Errorf("last_visit: %w", err)
		}
		p.LastVisit = &lv
	}

	return p, nil
}

type PatientResponse struct {
	ID          string       `json:"id"`
	FirstName   string       `json:"first_name"`
	LastName    string       `json:"last_name"`
	DateOfBirth string       `json:"date_of_birth"`
	Phone       string       `json:"phone"`
	Email       string       `json:"email"`
	Insurance   InsuranceDTO `json:"insurance"`
	Type        string       `json:"patient_type"`
	LastVisit   string       `json:"last_visit,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func newPatientResponse(p *appointment.Patient) PatientResponse {
	resp := PatientResponse{
		ID:          p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: timegrid.FormatDate(p.DateOfBirth),
		Phone:       p.Phone,
		Email:       p.Email,
		Insurance: InsuranceDTO{
			Company:     p.Insurance.Company,
			MemberID:    p.Insurance.MemberID,
			GroupNumber: p.Insurance.GroupNumber,
		},
		Type:      string(p.Type),
		CreatedAt: p.CreatedAt,
	}
	if p.LastVisit != nil {
		resp.LastVisit = timegrid.FormatDate(*p.LastVisit)
	}
	return resp
}

type PatientSearchResponse struct {
	Unique   bool              `json:"unique"`
	Patients []PatientResponse `json:"patients"`
}

type SlotsResponse struct {
	DoctorID string   `json:"doctor_id"`
	Date     string   `json:"date"`
	Duration int      `json:"duration"`
	Slots    []string `json:"slots"`
}

type CreateAppointmentRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	DoctorID  string `json:"doctor_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Start     string `json:"start" validate:"required"`
	Type      string `json:"type,omitempty"`
	Duration  int    `json:"duration,omitempty" validate:"omitempty,gt=0,lte=480"`
	Notes     string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patient_id"`
	DoctorID    string     `json:"doctor_id"`
	Date        string     `json:"date"`
	Start       string     `json:"start"`
	End         string     `json:"end"`
	Duration    int        `json:"duration"`
	Type        string     `json:"type"`
	Location    string     `json:"location"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		Date:        timegrid.FormatDate(a.Date),
		Start:       a.Start.String(),
		End:         a.End().String(),
		Duration:    a.Duration,
		Type:        string(a.Type),
		Location:    a.Location,
		Status:      string(a.Status),
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
		CancelledAt: a.CancelledAt,
	}
}

func newAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, newAppointmentResponse(&appts[i]))
	}
	return out
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Patient   *PatientResponse   `json:"patient,omitempty"`
	Doctor    *DoctorResponse    `json:"doctor,omitempty"`
	Reminders []ReminderResponse `json:"reminders"`
}

type ReminderResponse struct {
	ID        string     `json:"id"`
	Milestone string     `json:"milestone"`
	FireAt    time.Time  `json:"fire_at"`
	Channel   string     `json:"channel"`
	Message   string     `json:"message"`
	State     string     `json:"state"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

func newReminderResponses(reminders []appointment.Reminder) []ReminderResponse {
	out := make([]ReminderResponse, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, ReminderResponse{
			ID:        r.ID,
			Milestone: r.Milestone,
			FireAt:    r.FireAt,
			Channel:   string(r.Channel),
			Message:   r.Message,
			State:     string(r.State),
			SentAt:    r.SentAt,
		})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
