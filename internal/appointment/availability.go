package appointment

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

// DefaultSlotStep is the grid candidate start times are laid on, independent
// of appointment length.
const DefaultSlotStep = 15

// GenerateCandidateSlots lists the start times on date at which an
// appointment of durationMinutes fits inside the doctor's working hours
// without touching lunch. Bookings are not considered.
//
// A doctor with a malformed schedule gets no slots.
func GenerateCandidateSlots(doctor *Doctor, date time.Time, durationMinutes, stepMinutes int) []timegrid.Minute {
	if stepMinutes <= 0 {
		stepMinutes = DefaultSlotStep
	}
	if durationMinutes <= 0 {
		return nil
	}
	if !doctor.Days.Works(timegrid.WeekdayShortName(date)) {
		return nil
	}
	if err := doctor.ValidateSchedule(); err != nil {
		log.Warn().Err(err).Str("doctor_id", doctor.ID).Msg("refusing to generate slots for malformed schedule")
		return nil
	}

	duration := timegrid.Minute(durationMinutes)
	step := timegrid.Minute(stepMinutes)

	var slots []timegrid.Minute
	for start := doctor.WorkStart; start < doctor.WorkEnd; start += step {
		end := start + duration
		if end > doctor.WorkEnd {
			break
		}
		if overlaps(start, end, doctor.LunchStart, doctor.LunchEnd) {
			continue
		}
		slots = append(slots, start)
	}

	return slots
}
