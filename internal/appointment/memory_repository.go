package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps one session's records in process. Construct one per
// tenant and hand it to the service; nothing is shared globally.
type MemoryRepository struct {
	mu sync.RWMutex

	doctors      map[string]Doctor
	patients     map[string]Patient
	reservations map[string]Reservation
	appointments map[string]Appointment
	reminders    map[string]Reminder
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[string]Doctor),
		patients:     make(map[string]Patient),
		reservations: make(map[string]Reservation),
		appointments: make(map[string]Appointment),
		reminders:    make(map[string]Reminder),
	}
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[d.ID]; ok {
		return ErrDuplicateID
	}
	r.doctors[d.ID] = *d
	return nil
}

func (r *MemoryRepository) UpdateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[d.ID]; !ok {
		return ErrDoctorNotFound
	}
	r.doctors[d.ID] = *d
	return nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) DeleteDoctor(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[id]; !ok {
		return ErrDoctorNotFound
	}
	delete(r.doctors, id)
	return nil
}

func (r *MemoryRepository) CreatePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; ok {
		return ErrDuplicateID
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *MemoryRepository) UpdatePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return ErrPatientNotFound
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) FindPatientsByName(_ context.Context, firstName, lastName string) ([]Patient, error) {
	first, last := normalizeName(firstName), normalizeName(lastName)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Patient
	for _, p := range r.patients {
		if normalizeName(p.FirstName) == first && normalizeName(p.LastName) == last {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) InsertReservation(_ context.Context, res *Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reservations[res.Token]; ok {
		return ErrDuplicateID
	}
	r.reservations[res.Token] = *res
	return nil
}

func (r *MemoryRepository) ListActiveReservations(_ context.Context, doctorID string, date time.Time) ([]Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Reservation
	for _, res := range r.reservations {
		if res.DoctorID == doctorID && res.Date.Equal(date) && !res.Released {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ReleaseReservation(_ context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[token]
	if !ok || res.Released {
		return ErrReservationNotFound
	}
	res.Released = true
	res.ReleasedAt = &at
	r.reservations[token] = res
	return nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[a.ID]; ok {
		return ErrDuplicateID
	}
	r.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id string, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = at
	if to == StatusCancelled {
		a.CancelledAt = &at
	}
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID string) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) ListConfirmedByDoctor(_ context.Context, doctorID string) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Status == StatusConfirmed
	}), nil
}

func (r *MemoryRepository) ListAppointmentsByDoctorDate(_ context.Context, doctorID string, date time.Time) ([]Appointment, error) {
	return r.filterAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Date.Equal(date)
	}), nil
}

func (r *MemoryRepository) filterAppointments(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt().Before(out[j].StartsAt()) })
	return out
}

func (r *MemoryRepository) InsertReminders(_ context.Context, reminders []Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range reminders {
		if _, ok := r.reminders[rem.ID]; ok {
			return ErrDuplicateID
		}
	}
	for _, rem := range reminders {
		r.reminders[rem.ID] = rem
	}
	return nil
}

func (r *MemoryRepository) ListReminders(_ context.Context, appointmentID string) ([]Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Reminder
	for _, rem := range r.reminders {
		if rem.AppointmentID == appointmentID {
			out = append(out, rem)
		}
	}
	sortReminders(out)
	return out, nil
}

func (r *MemoryRepository) CancelScheduledReminders(_ context.Context, appointmentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rem := range r.reminders {
		if rem.AppointmentID == appointmentID && rem.State == ReminderScheduled {
			rem.State = ReminderCancelled
			r.reminders[id] = rem
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) FindDueReminders(_ context.Context, now time.Time, limit int) ([]Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Reminder
	for _, rem := range r.reminders {
		if rem.State == ReminderScheduled && !rem.FireAt.After(now) {
			out = append(out, rem)
		}
	}
	sortReminders(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rem, ok := r.reminders[id]
	if !ok || rem.State != ReminderScheduled {
		return ErrReminderNotFound
	}
	rem.State = ReminderSent
	rem.SentAt = &at
	r.reminders[id] = rem
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func sortReminders(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].FireAt.Equal(rs[j].FireAt) {
			return rs[i].FireAt.Before(rs[j].FireAt)
		}
		return rs[i].Channel < rs[j].Channel
	})
}
