package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

const pgUniqueViolation = "23505"

// pgxPool is the subset of *pgxpool.Pool the repository uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorColumns      = `id, name, specialty, location, works_mon, works_tue, works_wed, works_thu, works_fri, work_start, work_end, lunch_start, lunch_end, created_at, updated_at`
	patientColumns     = `id, first_name, last_name, date_of_birth, phone, email, insurance_company, insurance_member_id, insurance_group_number, patient_type, last_visit, created_at, updated_at`
	reservationColumns = `token, doctor_id, day, start_minute, duration, released, created_at, released_at`
	appointmentColumns = `id, patient_id, doctor_id, day, start_minute, duration, appointment_type, location, status, reservation_token, notes, created_at, updated_at, cancelled_at`
	reminderColumns    = `id, appointment_id, milestone, fire_at, channel, message, state, created_at, sent_at`
)

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var workStart, workEnd, lunchStart, lunchEnd int

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.Location,
		&d.Days.Mon,
		&d.Days.Tue,
		&d.Days.Wed,
		&d.Days.Thu,
		&d.Days.Fri,
		&workStart,
		&workEnd,
		&lunchStart,
		&lunchEnd,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.WorkStart = timegrid.Minute(workStart)
	d.WorkEnd = timegrid.Minute(workEnd)
	d.LunchStart = timegrid.Minute(lunchStart)
	d.LunchEnd = timegrid.Minute(lunchEnd)
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var patientType string
	var lastVisit *time.Time

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&p.Phone,
		&p.Email,
		&p.Insurance.Company,
		&p.Insurance.MemberID,
		&p.Insurance.GroupNumber,
		&patientType,
		&lastVisit,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Type = PatientType(patientType)
	p.LastVisit = lastVisit
	return &p, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var start int
	var releasedAt *time.Time

	err := row.Scan(
		&r.Token,
		&r.DoctorID,
		&r.Date,
		&start,
		&r.Duration,
		&r.Released,
		&r.CreatedAt,
		&releasedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	r.Start = timegrid.Minute(start)
	r.ReleasedAt = releasedAt
	return &r, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start int
	var apptType, status string
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&start,
		&a.Duration,
		&apptType,
		&a.Location,
		&status,
		&a.ReservationToken,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Start = timegrid.Minute(start)
	a.Type = AppointmentType(apptType)
	a.Status = AppointmentStatus(status)
	a.CancelledAt = cancelledAt
	return &a, nil
}

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	var channel, state string
	var sentAt *time.Time

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Milestone,
		&r.FireAt,
		&channel,
		&r.Message,
		&state,
		&r.CreatedAt,
		&sentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}

	r.Channel = Channel(channel)
	r.State = ReminderState(state)
	r.SentAt = sentAt
	return &r, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Doctors

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (`+doctorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, d.ID, d.Name, d.Specialty, d.Location,
		d.Days.Mon, d.Days.Tue, d.Days.Wed, d.Days.Thu, d.Days.Fri,
		int(d.WorkStart), int(d.WorkEnd), int(d.LunchStart), int(d.LunchEnd),
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateDoctor(ctx context.Context, d *Doctor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET name = $2, specialty = $3, location = $4,
		    works_mon = $5, works_tue = $6, works_wed = $7, works_thu = $8, works_fri = $9,
		    work_start = $10, work_end = $11, lunch_start = $12, lunch_end = $13,
		    updated_at = $14
		WHERE id = $1
	`, d.ID, d.Name, d.Specialty, d.Location,
		d.Days.Mon, d.Days.Tue, d.Days.Wed, d.Days.Thu, d.Days.Fri,
		int(d.WorkStart), int(d.WorkEnd), int(d.LunchStart), int(d.LunchEnd),
		d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id string) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDoctor)
}

// DeleteDoctor removes the doctor row. Appointment history keeps the doctor id.
func (r *PgRepository) DeleteDoctor(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

// Patients

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (`+patientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email,
		p.Insurance.Company, p.Insurance.MemberID, p.Insurance.GroupNumber,
		string(p.Type), p.LastVisit, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET first_name = $2, last_name = $3, date_of_birth = $4, phone = $5, email = $6,
		    insurance_company = $7, insurance_member_id = $8, insurance_group_number = $9,
		    patient_type = $10, last_visit = $11, updated_at = $12
		WHERE id = $1
	`, p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email,
		p.Insurance.Company, p.Insurance.MemberID, p.Insurance.GroupNumber,
		string(p.Type), p.LastVisit, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) FindPatientsByName(ctx context.Context, firstName, lastName string) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(first_name) = $1 AND lower(last_name) = $2
		ORDER BY created_at
	`, normalizeName(firstName), normalizeName(lastName))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPatient)
}

// Ledger

func (r *PgRepository) InsertReservation(ctx context.Context, res *Reservation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reservations (token, doctor_id, day, start_minute, duration, released, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, res.Token, res.DoctorID, res.Date, int(res.Start), res.Duration, res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (r *PgRepository) ListActiveReservations(ctx context.Context, doctorID string, date time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE doctor_id = $1 AND day = $2 AND NOT released
		ORDER BY start_minute
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReservation)
}

func (r *PgRepository) ReleaseReservation(ctx context.Context, token string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations
		SET released = true, released_at = $2
		WHERE token = $1 AND NOT released
	`, token, at)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULL)
	`, a.ID, a.PatientID, a.DoctorID, a.Date, int(a.Start), a.Duration,
		string(a.Type), a.Location, string(a.Status), a.ReservationToken, a.Notes,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id string, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $4,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancelled_at END
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, string(to), string(from), at)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY day, start_minute
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListConfirmedByDoctor(ctx context.Context, doctorID string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND status = 'confirmed'
		ORDER BY day, start_minute
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND day = $2
		ORDER BY start_minute
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

// Reminders

func (r *PgRepository) InsertReminders(ctx context.Context, reminders []Reminder) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reminders tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rem := range reminders {
		_, err := tx.Exec(ctx, `
			INSERT INTO reminders (id, appointment_id, milestone, fire_at, channel, message, state, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rem.ID, rem.AppointmentID, rem.Milestone, rem.FireAt, string(rem.Channel), rem.Message,
			string(rem.State), rem.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateID
			}
			return fmt.Errorf("insert reminder: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) ListReminders(ctx context.Context, appointmentID string) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY fire_at, channel
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReminder)
}

func (r *PgRepository) CancelScheduledReminders(ctx context.Context, appointmentID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET state = 'cancelled'
		WHERE appointment_id = $1 AND state = 'scheduled'
	`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) FindDueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE state = 'scheduled'
		  AND fire_at <= $1
		ORDER BY fire_at, channel
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReminder)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminders
		SET state = 'sent', sent_at = $2
		WHERE id = $1 AND state = 'scheduled'
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
