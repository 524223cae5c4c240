package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-appointment-scheduler/internal/redis"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

func newTestLedger() (*Ledger, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewLedger(repo, redisclient.NewLocalDayLocker()), repo
}

func TestLedger_ReserveDetectsIntervalOverlap(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	_, err := ledger.Reserve(ctx, "doc-1", monday, hm("10:00"), 60)
	require.NoError(t, err)

	// Different start times, still overlapping.
	_, err = ledger.Reserve(ctx, "doc-1", monday, hm("10:45"), 30)
	assert.ErrorIs(t, err, ErrSlotConflict)
	_, err = ledger.Reserve(ctx, "doc-1", monday, hm("09:45"), 30)
	assert.ErrorIs(t, err, ErrSlotConflict)

	// Touching intervals are fine.
	_, err = ledger.Reserve(ctx, "doc-1", monday, hm("11:00"), 30)
	assert.NoError(t, err)
	_, err = ledger.Reserve(ctx, "doc-1", monday, hm("09:30"), 30)
	assert.NoError(t, err)

	// Other doctors and days are independent.
	_, err = ledger.Reserve(ctx, "doc-2", monday, hm("10:00"), 60)
	assert.NoError(t, err)
	_, err = ledger.Reserve(ctx, "doc-1", tuesday, hm("10:00"), 60)
	assert.NoError(t, err)

	occupied, err := ledger.OccupiedTimes(ctx, "doc-1", monday)
	require.NoError(t, err)
	assert.Equal(t, []timegrid.Minute{hm("09:30"), hm("10:00"), hm("11:00")}, occupied)
}

func TestLedger_ReleaseFreesAndRejectsSecondRelease(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	token, err := ledger.Reserve(ctx, "doc-1", monday, hm("10:00"), 30)
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, token))

	occupied, err := ledger.OccupiedTimes(ctx, "doc-1", monday)
	require.NoError(t, err)
	assert.Empty(t, occupied)

	err = ledger.Release(ctx, token)
	assert.ErrorIs(t, err, ErrReservationNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, ledger.Release(ctx, "no-such-token"), ErrNotFound)

	_, err = ledger.Reserve(ctx, "doc-1", monday, hm("10:00"), 30)
	assert.NoError(t, err)
}

func TestLedger_RejectsNonPositiveDuration(t *testing.T) {
	ledger, _ := newTestLedger()
	_, err := ledger.Reserve(context.Background(), "doc-1", monday, hm("10:00"), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLedger_NormalisesDate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	_, err := ledger.Reserve(ctx, "doc-1", monday.Add(15*time.Hour), hm("10:00"), 30)
	require.NoError(t, err)

	occupied, err := ledger.OccupiedTimes(ctx, "doc-1", monday)
	require.NoError(t, err)
	assert.Equal(t, []timegrid.Minute{hm("10:00")}, occupied)
}

type busyLocker struct{}

func (busyLocker) WithDayLock(context.Context, string, time.Time, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestLedger_BusyLockIsAConflict(t *testing.T) {
	ledger := NewLedger(NewMemoryRepository(), busyLocker{})

	_, err := ledger.Reserve(context.Background(), "doc-1", monday, hm("10:00"), 30)
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
	assert.ErrorIs(t, err, ErrSlotConflict)
}

type failingLedgerRepo struct {
	*MemoryRepository
}

func (failingLedgerRepo) ListActiveReservations(context.Context, string, time.Time) ([]Reservation, error) {
	return nil, errors.New("connection reset")
}

func TestLedger_StorageErrorsAreWrapped(t *testing.T) {
	ledger := NewLedger(failingLedgerRepo{NewMemoryRepository()}, redisclient.NewLocalDayLocker())

	_, err := ledger.Reserve(context.Background(), "doc-1", monday, hm("10:00"), 30)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotConflict)
	assert.ErrorContains(t, err, "list reservations")
}
