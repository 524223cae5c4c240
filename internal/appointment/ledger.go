package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-appointment-scheduler/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

// Ledger is the authoritative record of which doctor-day intervals are taken.
type Ledger struct {
	repo   LedgerRepository
	locker redisclient.Locker
	now    func() time.Time
}

func NewLedger(repo LedgerRepository, locker redisclient.Locker) *Ledger {
	return &Ledger{
		repo:   repo,
		locker: locker,
		now:    time.Now,
	}
}

// OccupiedTimes returns the start times of active reservations, ascending.
func (l *Ledger) OccupiedTimes(ctx context.Context, doctorID string, date time.Time) ([]timegrid.Minute, error) {
	active, err := l.Occupied(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	times := make([]timegrid.Minute, 0, len(active))
	for _, r := range active {
		times = append(times, r.Start)
	}
	return times, nil
}

// Occupied returns the active reservations ordered by start.
func (l *Ledger) Occupied(ctx context.Context, doctorID string, date time.Time) ([]Reservation, error) {
	active, err := l.repo.ListActiveReservations(ctx, doctorID, timegrid.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start < active[j].Start })
	return active, nil
}

// Reserve takes [start, start+duration) for the doctor on date and returns
// the reservation token. The overlap check and the write happen under the
// doctor-day lock.
func (l *Ledger) Reserve(ctx context.Context, doctorID string, date time.Time, start timegrid.Minute, duration int) (string, error) {
	if duration <= 0 {
		return "", fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	}
	day := timegrid.Day(date)
	end := start + timegrid.Minute(duration)

	var token string
	err := l.locker.WithDayLock(ctx, doctorID, day, func(lockCtx context.Context) error {
		active, err := l.repo.ListActiveReservations(lockCtx, doctorID, day)
		if err != nil {
			return fmt.Errorf("list reservations: %w", err)
		}
		for _, r := range active {
			if overlaps(start, end, r.Start, r.End()) {
				return fmt.Errorf("%w: %s-%s overlaps booking at %s", ErrSlotConflict, start, end, r.Start)
			}
		}

		res := &Reservation{
			Token:     uuid.NewString(),
			DoctorID:  doctorID,
			Date:      day,
			Start:     start,
			Duration:  duration,
			CreatedAt: l.now(),
		}
		if err := l.repo.InsertReservation(lockCtx, res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		token = res.Token
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return "", ErrSlotBeingBooked
		}
		return "", err
	}

	return token, nil
}

// Release frees a reservation. A second release of the same token reports
// ErrReservationNotFound.
func (l *Ledger) Release(ctx context.Context, token string) error {
	if err := l.repo.ReleaseReservation(ctx, token, l.now()); err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return err
		}
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}
