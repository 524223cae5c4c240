package appointment

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-scheduler/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

var bookingClock = time.Date(2025, 2, 24, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	doctor  *Doctor
	patient *Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	ledger := NewLedger(repo, redisclient.NewLocalDayLocker())
	svc := NewService(repo, ledger, config.Config{SlotStep: 15}, metrics.NewSchedulingMetrics(prometheus.NewRegistry()))
	svc.now = func() time.Time { return bookingClock }

	ctx := context.Background()
	doctor, err := svc.CreateDoctor(ctx, *testDoctor())
	require.NoError(t, err)

	patient, err := svc.CreatePatient(ctx, Patient{
		FirstName:   "Jane",
		LastName:    "Doe",
		DateOfBirth: time.Date(1988, 6, 1, 0, 0, 0, 0, time.UTC),
		Phone:       "555-0100",
		Email:       "jane@example.com",
		Insurance:   Insurance{Company: "Blue Cross Blue Shield", MemberID: "M-1", GroupNumber: "G-9"},
		Type:        PatientNew,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, doctor: doctor, patient: patient}
}

func (f *fixture) book(t *testing.T, start string, typ AppointmentType) (*Appointment, error) {
	t.Helper()
	return f.svc.Book(context.Background(), BookRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		Date:      monday,
		Start:     hm(start),
		Type:      typ,
	})
}

func TestService_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.AvailableSlots(ctx, f.doctor.ID, tuesday, 30)
	require.NoError(t, err)
	assert.Empty(t, slots)

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, 30, appt.Duration)
	assert.Equal(t, "Main Clinic - Downtown", appt.Location)

	slots, err = f.svc.AvailableSlots(ctx, f.doctor.ID, monday, 30)
	require.NoError(t, err)
	for _, taken := range []string{"09:45", "10:00", "10:15"} {
		assert.NotContains(t, slots, hm(taken), taken)
	}
	assert.Contains(t, slots, hm("09:30"))
	assert.Contains(t, slots, hm("10:30"))

	require.NoError(t, f.svc.Cancel(ctx, appt.ID))

	slots, err = f.svc.AvailableSlots(ctx, f.doctor.ID, monday, 30)
	require.NoError(t, err)
	assert.Contains(t, slots, hm("10:00"))
	assert.Contains(t, slots, hm("09:45"))
}

func TestService_AvailableSlotsSubtractsWholeIntervals(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "10:00", TypeInitialConsultation)
	require.NoError(t, err)

	// A 30 minute visit must not start anywhere in 09:45..10:45.
	slots, err := f.svc.AvailableSlots(context.Background(), f.doctor.ID, monday, 30)
	require.NoError(t, err)
	for _, taken := range []string{"09:45", "10:00", "10:15", "10:30", "10:45"} {
		assert.NotContains(t, slots, hm(taken), taken)
	}
	assert.Contains(t, slots, hm("11:00"))
}

func TestService_BookRejectsOverlappingDifferentStart(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "10:00", TypeInitialConsultation)
	require.NoError(t, err)

	_, err = f.book(t, "10:45", TypeFollowUp)
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.book(t, "11:00", TypeFollowUp)
	assert.NoError(t, err)
}

func TestService_BookRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(t, "10:00", AppointmentType("Massage"))
	assert.ErrorIs(t, err, ErrUnknownAppointmentType)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.book(t, "12:15", TypeFollowUp)
	assert.ErrorIs(t, err, ErrSlotConflict, "overlaps lunch")

	_, err = f.book(t, "16:15", TypeInitialConsultation)
	assert.ErrorIs(t, err, ErrSlotConflict, "runs past closing")

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: "nobody", DoctorID: f.doctor.ID, Date: monday, Start: hm("10:00"), Type: TypeFollowUp,
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: f.patient.ID, DoctorID: "nobody", Date: monday, Start: hm("10:00"), Type: TypeFollowUp,
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: tuesday, Start: hm("10:00"), Type: TypeFollowUp,
	})
	assert.ErrorIs(t, err, ErrSlotConflict, "doctor off on tuesday")
}

func TestService_DurationComesFromType(t *testing.T) {
	f := newFixture(t)

	appt, err := f.book(t, "09:00", TypeAllergyTesting)
	require.NoError(t, err)
	assert.Equal(t, 45, appt.Duration)

	appt, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday, Start: hm("14:00"),
		Type: TypeFollowUp, Duration: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, appt.Duration)
	assert.Equal(t, TypeFollowUp, appt.Type)
}

func TestService_NoDoubleBookingUnderRandomLoad(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(7, 11))
	types := []AppointmentType{TypeInitialConsultation, TypeFollowUp, TypeAllergyTesting}

	for i := 0; i < 200; i++ {
		start := timegrid.Minute(9*60 + 15*rng.IntN(32))
		_, err := f.svc.Book(context.Background(), BookRequest{
			PatientID: f.patient.ID, DoctorID: f.doctor.ID, Date: monday,
			Start: start, Type: types[rng.IntN(len(types))],
		})
		if err != nil {
			require.ErrorIs(t, err, ErrSlotConflict)
		}
	}

	assertNoOverlap(t, f, monday)
}

func TestService_ConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.book(t, "10:00", TypeFollowUp)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotConflict)
	}
	assert.Equal(t, 1, succeeded)
	assertNoOverlap(t, f, monday)
}

func assertNoOverlap(t *testing.T, f *fixture, day time.Time) {
	t.Helper()
	appts, err := f.svc.ListAppointmentsByDoctorDate(context.Background(), f.doctor.ID, day)
	require.NoError(t, err)

	var confirmed []Appointment
	for _, a := range appts {
		if a.Status == StatusConfirmed {
			confirmed = append(confirmed, a)
		}
	}
	for i := range confirmed {
		for j := i + 1; j < len(confirmed); j++ {
			a, b := confirmed[i], confirmed[j]
			assert.False(t, overlaps(a.Start, a.End(), b.Start, b.End()),
				"%s-%s overlaps %s-%s", a.Start, a.End(), b.Start, b.End())
		}
	}
}

func TestService_CancelIsSoftAndRejectsRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, appt.ID))

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)

	err = f.svc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.Cancel(ctx, "APT00000000")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.False(t, errors.Is(err, ErrAlreadyCancelled))
}

func TestService_RemindersScheduledAndCascaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	reminders, err := f.svc.ListReminders(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 6)

	startsAt := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	perMilestone := map[time.Duration]int{}
	for _, r := range reminders {
		assert.Equal(t, ReminderScheduled, r.State)
		perMilestone[startsAt.Sub(r.FireAt)]++
	}
	assert.Equal(t, map[time.Duration]int{72 * time.Hour: 2, 24 * time.Hour: 2, 4 * time.Hour: 2}, perMilestone)

	// Two days before: only the 72h pair is due.
	f.svc.now = func() time.Time { return startsAt.Add(-48 * time.Hour) }
	sent, err := f.svc.SendDueReminders(ctx, LogNotifier{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.NoError(t, f.svc.Cancel(ctx, appt.ID))

	reminders, err = f.svc.ListReminders(ctx, appt.ID)
	require.NoError(t, err)
	states := map[ReminderState]int{}
	for _, r := range reminders {
		states[r.State]++
	}
	assert.Equal(t, map[ReminderState]int{ReminderSent: 2, ReminderCancelled: 4}, states)

	f.svc.now = func() time.Time { return startsAt }
	sent, err = f.svc.SendDueReminders(ctx, LogNotifier{}, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

type flakyNotifier struct{ fail Channel }

func (n flakyNotifier) Notify(_ context.Context, r Reminder) error {
	if r.Channel == n.fail {
		return errors.New("gateway down")
	}
	return nil
}

func TestService_FailedReminderStaysScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return appt.StartsAt().Add(-time.Hour) }
	sent, err := f.svc.SendDueReminders(ctx, flakyNotifier{fail: ChannelSMS}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	due, err := f.repo.FindDueReminders(ctx, f.svc.now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	for _, r := range due {
		assert.Equal(t, ChannelSMS, r.Channel)
	}
}

func TestService_AppointmentIDCollisionRetries(t *testing.T) {
	f := newFixture(t)
	ids := []string{"APT00000001", "APT00000001", "APT00000002"}
	f.svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := f.book(t, "09:00", TypeFollowUp)
	require.NoError(t, err)
	second, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	assert.Equal(t, "APT00000001", first.ID)
	assert.Equal(t, "APT00000002", second.ID)

	stored, err := f.repo.GetAppointmentByID(context.Background(), "APT00000001")
	require.NoError(t, err)
	assert.Equal(t, hm("09:00"), stored.Start, "first appointment must not be overwritten")
}

func TestService_IDExhaustionReleasesReservation(t *testing.T) {
	f := newFixture(t)
	f.svc.newID = func() string { return "APT00000001" }

	_, err := f.book(t, "09:00", TypeFollowUp)
	require.NoError(t, err)

	_, err = f.book(t, "10:00", TypeFollowUp)
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)

	occupied, err := f.svc.ledger.OccupiedTimes(context.Background(), f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Equal(t, []timegrid.Minute{hm("09:00")}, occupied)
}

func TestService_GetAppointmentDetail(t *testing.T) {
	f := newFixture(t)

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	detail, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, detail.ID)
	assert.Equal(t, "Jane Doe", detail.Patient.FullName())
	assert.Equal(t, f.doctor.Name, detail.Doctor.Name)
	assert.Len(t, detail.Reminders, 6)

	_, err = f.svc.GetAppointment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestService_EventsLogged(t *testing.T) {
	f := newFixture(t)

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), appt.ID))

	events := f.repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, EventAppointmentCancelled, events[1].EventType)
	assert.JSONEq(t, `{"reminders_cancelled":6}`, string(events[1].Payload))
}

type flakyReleaseRepo struct {
	*MemoryRepository
	failures int
}

func (r *flakyReleaseRepo) ReleaseReservation(ctx context.Context, token string, at time.Time) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.MemoryRepository.ReleaseReservation(ctx, token, at)
}

func TestService_CancelResumesAfterReleaseFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	repo := &flakyReleaseRepo{MemoryRepository: f.repo, failures: 1}
	f.svc.repo = repo
	f.svc.ledger = NewLedger(repo, redisclient.NewLocalDayLocker())

	err = f.svc.Cancel(ctx, appt.ID)
	require.ErrorContains(t, err, "connection reset")

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	require.NoError(t, f.svc.Cancel(ctx, appt.ID))

	free, err := f.svc.AvailableSlots(ctx, f.doctor.ID, monday, 30)
	require.NoError(t, err)
	assert.Contains(t, free, hm("10:00"))

	reminders, err := f.svc.ListReminders(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 6)
	for _, r := range reminders {
		assert.Equal(t, ReminderCancelled, r.State)
	}

	assert.ErrorIs(t, f.svc.Cancel(ctx, appt.ID), ErrAlreadyCancelled)
}

type staleDueRepo struct {
	*MemoryRepository
	due []Reminder
}

func (r staleDueRepo) FindDueReminders(context.Context, time.Time, int) ([]Reminder, error) {
	return r.due, nil
}

type recordingNotifier struct {
	sent     []string
	onNotify func(Reminder)
}

func (n *recordingNotifier) Notify(_ context.Context, r Reminder) error {
	n.sent = append(n.sent, r.ID)
	if n.onNotify != nil {
		n.onNotify(r)
	}
	return nil
}

func TestService_SendDueRemindersSkipsCancelledAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return appt.StartsAt().Add(-48 * time.Hour) }
	due, err := f.repo.FindDueReminders(ctx, f.svc.now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	require.NoError(t, f.svc.Cancel(ctx, appt.ID))
	f.svc.repo = staleDueRepo{MemoryRepository: f.repo, due: due}

	notifier := &recordingNotifier{}
	sent, err := f.svc.SendDueReminders(ctx, notifier, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, notifier.sent)
}

func TestService_SendDueRemindersCountsOnlyMarkedReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.book(t, "10:00", TypeFollowUp)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return appt.StartsAt().Add(-48 * time.Hour) }
	notifier := &recordingNotifier{onNotify: func(Reminder) {
		_, err := f.repo.CancelScheduledReminders(ctx, appt.ID)
		require.NoError(t, err)
	}}

	sent, err := f.svc.SendDueReminders(ctx, notifier, 0)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, notifier.sent, 2)

	reminders, err := f.svc.ListReminders(ctx, appt.ID)
	require.NoError(t, err)
	for _, r := range reminders {
		assert.Equal(t, ReminderCancelled, r.State)
	}
}
