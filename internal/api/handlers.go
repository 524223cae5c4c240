package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

// Appointments

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		date, err := timegrid.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		start, err := timegrid.ParseTime(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
			return
		}

		var apptType appointment.AppointmentType
		if req.Type != "" {
			apptType, err = appointment.ParseAppointmentType(req.Type)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_type", err.Error())
				return
			}
		} else {
			patient, err := svc.GetPatient(r.Context(), req.PatientID)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			apptType = appointment.DefaultAppointmentType(patient.Type)
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      date,
			Start:     start,
			Type:      apptType,
			Duration:  req.Duration,
			Notes:     req.Notes,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := svc.GetAppointment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := AppointmentDetailResponse{
			AppointmentResponse: newAppointmentResponse(&detail.Appointment),
			Reminders:           newReminderResponses(detail.Reminders),
		}
		if detail.Patient != nil {
			p := newPatientResponse(detail.Patient)
			resp.Patient = &p
		}
		if detail.Doctor != nil {
			d := newDoctorResponse(detail.Doctor)
			resp.Doctor = &d
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// listAppointmentsHandler lists a doctor's day: GET /appointments?doctor_id=&date=
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := r.URL.Query().Get("doctor_id")
		if doctorID == "" {
			writeError(w, http.StatusBadRequest, "missing_doctor_id", "doctor_id is required")
			return
		}
		date, err := timegrid.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		appts, err := svc.ListAppointmentsByDoctorDate(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponses(appts))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Cancel(r.Context(), id); err != nil {
			handleServiceError(w, r, err)
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(&detail.Appointment))
	}
}

func listRemindersHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reminders, err := svc.ListReminders(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newReminderResponses(reminders))
	}
}

// Doctors

func createDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		d, err := req.toDoctor("")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		created, err := svc.CreateDoctor(r.Context(), d)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newDoctorResponse(created))
	}
}

func updateDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		d, err := req.toDoctor(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		updated, affected, err := svc.UpdateDoctor(r.Context(), d)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, UpdateDoctorResponse{
			Doctor:      newDoctorResponse(updated),
			NeedsReview: newAppointmentResponses(affected),
		})
	}
}

func getDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.GetDoctor(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newDoctorResponse(d))
	}
}

func listDoctorsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		out := make([]DoctorResponse, 0, len(doctors))
		for i := range doctors {
			out = append(out, newDoctorResponse(&doctors[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func deleteDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteDoctor(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// availableSlotsHandler serves GET /doctors/{id}/slots?date=&type=&duration=.
// An explicit duration wins over the type's standard length.
func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date, err := timegrid.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		duration, err := slotDuration(q.Get("type"), q.Get("duration"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", err.Error())
			return
		}

		doctorID := chi.URLParam(r, "id")
		slots, err := svc.AvailableSlots(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		out := make([]string, 0, len(slots))
		for _, s := range slots {
			out = append(out, s.String())
		}
		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID: doctorID,
			Date:     timegrid.FormatDate(date),
			Duration: duration,
			Slots:    out,
		})
	}
}

func slotDuration(typ, raw string) (int, error) {
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("duration must be a positive number of minutes, got %q", raw)
		}
		return n, nil
	}
	if typ == "" {
		return 0, errors.New("type or duration is required")
	}
	t, err := appointment.ParseAppointmentType(typ)
	if err != nil {
		return 0, err
	}
	d, _ := t.Duration()
	return d, nil
}

// Patients

func createPatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		p, err := req.toPatient("")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		created, err := svc.CreatePatient(r.Context(), p)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newPatientResponse(created))
	}
}

func updatePatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		p, err := req.toPatient(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		updated, err := svc.UpdatePatient(r.Context(), p)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newPatientResponse(updated))
	}
}

func getPatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetPatient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newPatientResponse(p))
	}
}

// searchPatientsHandler serves GET /patients/search?first_name=&last_name=&date_of_birth=&phone=
func searchPatientsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := appointment.PatientQuery{
			FirstName: q.Get("first_name"),
			LastName:  q.Get("last_name"),
			Phone:     q.Get("phone"),
		}
		if raw := q.Get("date_of_birth"); raw != "" {
			dob, err := timegrid.ParseDate(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			query.DateOfBirth = &dob
		}

		matches, unique, err := svc.SearchPatients(r.Context(), query)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := PatientSearchResponse{Unique: unique, Patients: make([]PatientResponse, 0, len(matches))}
		for i := range matches {
			resp.Patients = append(resp.Patients, newPatientResponse(&matches[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListAppointmentsByPatient(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponses(appts))
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var formatErr *timegrid.FormatError

	switch {
	case errors.As(err, &formatErr):
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
	case errors.Is(err, appointment.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
	case errors.Is(err, appointment.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, appointment.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case appointment.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrDoctorHasAppointments):
		writeError(w, http.StatusConflict, "doctor_has_appointments", err.Error())
	default:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
