package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduler/internal/redis"
)

// A Monday far enough ahead that every reminder milestone is in the future.
const bookingDate = "2030-03-04"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	repo := appointment.NewMemoryRepository()
	ledger := appointment.NewLedger(repo, redisclient.NewLocalDayLocker())
	svc := appointment.NewService(repo, ledger, config.Config{SlotStep: 15}, metrics.NewSchedulingMetrics(reg))

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:  svc,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
		Env:      "test",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seedDoctorAndPatient(t *testing.T, base string) (DoctorResponse, PatientResponse) {
	t.Helper()

	var doc DoctorResponse
	status := doJSON(t, http.MethodPost, base+"/doctors", DoctorRequest{
		Name:       "Dr. Sarah Chen",
		Specialty:  "Allergy & Immunology",
		Location:   "Main Clinic - Downtown",
		Days:       appointment.WorkingDays{Mon: true, Wed: true, Fri: true},
		WorkStart:  "09:00",
		WorkEnd:    "17:00",
		LunchStart: "12:30",
		LunchEnd:   "13:30",
	}, &doc)
	require.Equal(t, http.StatusCreated, status)

	var pat PatientResponse
	status = doJSON(t, http.MethodPost, base+"/patients", PatientRequest{
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: "1985-06-15",
		Phone:       "555-0100",
		Email:       "jane@example.com",
		Type:        "new",
	}, &pat)
	require.Equal(t, http.StatusCreated, status)

	return doc, pat
}

func TestBookingFlow(t *testing.T) {
	srv := newTestServer(t)
	doc, pat := seedDoctorAndPatient(t, srv.URL)

	var slots SlotsResponse
	status := doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID+"/slots?date="+bookingDate+"&type=Follow-up", nil, &slots)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 30, slots.Duration)
	assert.Contains(t, slots.Slots, "12:00")
	assert.NotContains(t, slots.Slots, "12:30")

	// No type: a new patient gets an initial consultation.
	var appt AppointmentResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/appointments", CreateAppointmentRequest{
		PatientID: pat.ID,
		DoctorID:  doc.ID,
		Date:      bookingDate,
		Start:     "10:00",
	}, &appt)
	require.Equal(t, http.StatusCreated, status)
	assert.Regexp(t, `^APT\d{8}$`, appt.ID)
	assert.Equal(t, "Initial Consultation", appt.Type)
	assert.Equal(t, "11:00", appt.End)
	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, "Main Clinic - Downtown", appt.Location)

	status = doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID+"/slots?date="+bookingDate+"&duration=30", nil, &slots)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, slots.Slots, "10:30")
	assert.Contains(t, slots.Slots, "11:00")

	// Same interval again.
	var errResp ErrorResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/appointments", CreateAppointmentRequest{
		PatientID: pat.ID,
		DoctorID:  doc.ID,
		Date:      bookingDate,
		Start:     "10:30",
		Type:      "Follow-up",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "slot_unavailable", errResp.Error)

	var detail AppointmentDetailResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/appointments/"+appt.ID, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, detail.Patient)
	assert.Equal(t, "Jane", detail.Patient.FirstName)
	require.NotNil(t, detail.Doctor)
	assert.Len(t, detail.Reminders, 6)

	var listed []AppointmentResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/patients/"+pat.ID+"/appointments", nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 1)

	status = doJSON(t, http.MethodGet, srv.URL+"/appointments?doctor_id="+doc.ID+"&date="+bookingDate, nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 1)

	var cancelled AppointmentResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/appointments/"+appt.ID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	status = doJSON(t, http.MethodPost, srv.URL+"/appointments/"+appt.ID+"/cancel", nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_cancelled", errResp.Error)

	var reminders []ReminderResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/appointments/"+appt.ID+"/reminders", nil, &reminders)
	require.Equal(t, http.StatusOK, status)
	for _, r := range reminders {
		assert.Equal(t, "cancelled", r.State)
	}

	// The interval is free again.
	status = doJSON(t, http.MethodPost, srv.URL+"/appointments", CreateAppointmentRequest{
		PatientID: pat.ID,
		DoctorID:  doc.ID,
		Date:      bookingDate,
		Start:     "10:30",
		Type:      "follow-up",
	}, &appt)
	assert.Equal(t, http.StatusCreated, status)
}

func TestBookingRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	doc, pat := seedDoctorAndPatient(t, srv.URL)

	tests := []struct {
		name   string
		req    CreateAppointmentRequest
		status int
		code   string
	}{
		{"malformed time", CreateAppointmentRequest{PatientID: pat.ID, DoctorID: doc.ID, Date: bookingDate, Start: "9am", Type: "Follow-up"}, http.StatusBadRequest, "invalid_start"},
		{"malformed date", CreateAppointmentRequest{PatientID: pat.ID, DoctorID: doc.ID, Date: "03/04/2030", Start: "09:00", Type: "Follow-up"}, http.StatusBadRequest, "invalid_date"},
		{"unknown type", CreateAppointmentRequest{PatientID: pat.ID, DoctorID: doc.ID, Date: bookingDate, Start: "09:00", Type: "Surgery"}, http.StatusBadRequest, "invalid_type"},
		{"during lunch", CreateAppointmentRequest{PatientID: pat.ID, DoctorID: doc.ID, Date: bookingDate, Start: "12:45", Type: "Follow-up"}, http.StatusConflict, "slot_unavailable"},
		{"unknown doctor", CreateAppointmentRequest{PatientID: pat.ID, DoctorID: "ghost", Date: bookingDate, Start: "09:00", Type: "Follow-up"}, http.StatusNotFound, "doctor_not_found"},
		{"unknown patient", CreateAppointmentRequest{PatientID: "ghost", DoctorID: doc.ID, Date: bookingDate, Start: "09:00"}, http.StatusNotFound, "patient_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			status := doJSON(t, http.MethodPost, srv.URL+"/appointments", tt.req, &errResp)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errResp.Error)
		})
	}
}

func TestSlotsRequiresTypeOrDuration(t *testing.T) {
	srv := newTestServer(t)
	doc, _ := seedDoctorAndPatient(t, srv.URL)

	var errResp ErrorResponse
	status := doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID+"/slots?date="+bookingDate, nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_duration", errResp.Error)

	var slots SlotsResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID+"/slots?date=2030-03-05&type=Follow-up", nil, &slots)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, slots.Slots, "tuesday is not a working day")
}

func TestDoctorLifecycle(t *testing.T) {
	srv := newTestServer(t)
	doc, pat := seedDoctorAndPatient(t, srv.URL)

	var errResp ErrorResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/doctors", DoctorRequest{
		Name: "Dr. Bad Lunch", WorkStart: "09:00", WorkEnd: "17:00", LunchStart: "18:00", LunchEnd: "19:00",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_schedule", errResp.Error)

	var appt AppointmentResponse
	status = doJSON(t, http.MethodPost, srv.URL+"/appointments", CreateAppointmentRequest{
		PatientID: pat.ID, DoctorID: doc.ID, Date: bookingDate, Start: "09:00", Type: "Follow-up",
	}, &appt)
	require.Equal(t, http.StatusCreated, status)

	var updated UpdateDoctorResponse
	status = doJSON(t, http.MethodPut, srv.URL+"/doctors/"+doc.ID, DoctorRequest{
		Name: doc.Name, Specialty: doc.Specialty, Location: doc.Location, Days: doc.Days,
		WorkStart: "10:00", WorkEnd: "17:00", LunchStart: "12:30", LunchEnd: "13:30",
	}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "10:00", updated.Doctor.WorkStart)
	require.Len(t, updated.NeedsReview, 1)
	assert.Equal(t, appt.ID, updated.NeedsReview[0].ID)

	status = doJSON(t, http.MethodDelete, srv.URL+"/doctors/"+doc.ID, nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "doctor_has_appointments", errResp.Error)

	status = doJSON(t, http.MethodPost, srv.URL+"/appointments/"+appt.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = doJSON(t, http.MethodDelete, srv.URL+"/doctors/"+doc.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID, nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPatientSearch(t *testing.T) {
	srv := newTestServer(t)
	_, pat := seedDoctorAndPatient(t, srv.URL)

	var twin PatientResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/patients", PatientRequest{
		FirstName: "Jane", LastName: "Doe", DateOfBirth: "1990-01-01", Phone: "555-0199", Type: "returning",
	}, &twin)
	require.Equal(t, http.StatusCreated, status)

	var result PatientSearchResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/patients/search?first_name=jane&last_name=doe", nil, &result)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, result.Unique)
	assert.Len(t, result.Patients, 2)

	status = doJSON(t, http.MethodGet, srv.URL+"/patients/search?first_name=Jane&last_name=Doe&date_of_birth=1985-06-15", nil, &result)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, result.Unique)
	assert.Equal(t, pat.ID, result.Patients[0].ID)

	var errResp ErrorResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/patients/search?first_name=Jane", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", errResp.Error)
}

func TestUnknownAppointment(t *testing.T) {
	srv := newTestServer(t)

	var errResp ErrorResponse
	status := doJSON(t, http.MethodGet, srv.URL+"/appointments/APT00000000", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "appointment_not_found", errResp.Error)

	status = doJSON(t, http.MethodPost, srv.URL+"/appointments/APT00000000/cancel", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		status   int
		overall  string
	}{
		{"memory mode", nil, nil, http.StatusOK, "ok"},
		{"all up", fakePinger{}, fakePinger{}, http.StatusOK, "ok"},
		{"redis down", fakePinger{}, fakePinger{err: errors.New("refused")}, http.StatusOK, "degraded"},
		{"postgres down", fakePinger{err: errors.New("refused")}, fakePinger{}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.overall, resp.Status)
		})
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	// Generate one slot lookup so the counter is exported.
	doc, _ := seedDoctorAndPatient(t, srv.URL)
	doJSON(t, http.MethodGet, srv.URL+"/doctors/"+doc.ID+"/slots?date="+bookingDate+"&duration=30", nil, nil)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "clinic_scheduling_slot_queries_total 1")
}

func TestRequestValidation(t *testing.T) {
	srv := newTestServer(t)

	var errResp ErrorResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/appointments", CreateAppointmentRequest{
		DoctorID: "doc", Date: bookingDate, Start: "09:00",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", errResp.Error)
	assert.Contains(t, errResp.Details, "patient_id")

	status = doJSON(t, http.MethodPost, srv.URL+"/patients", PatientRequest{
		FirstName: "Jane", LastName: "Doe", DateOfBirth: "1985-06-15", Email: "not-an-email", Type: "new",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errResp.Details, "email")

	status = doJSON(t, http.MethodPost, srv.URL+"/patients", PatientRequest{
		FirstName: "Jane", LastName: "Doe", DateOfBirth: "1985-06-15", Type: "vip",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errResp.Details, "patient_type")
}

func TestRateLimit(t *testing.T) {
	repo := appointment.NewMemoryRepository()
	svc := appointment.NewService(repo, appointment.NewLedger(repo, redisclient.NewLocalDayLocker()), config.Config{}, nil)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:   svc,
		Gatherer:  prometheus.NewRegistry(),
		Logger:    zerolog.Nop(),
		RateLimit: 0.001,
		RateBurst: 2,
	}))
	defer srv.Close()

	var doctors []DoctorResponse
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/doctors", nil, &doctors))
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/doctors", nil, &doctors))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, http.MethodGet, srv.URL+"/doctors", nil, &errResp))
	assert.Equal(t, "rate_limited", errResp.Error)

	// Health checks are never limited.
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/health/live", nil, nil))
}
