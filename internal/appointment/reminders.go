package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

type milestone struct {
	name   string
	before time.Duration
	text   func(patient, doctor string, a *Appointment) string
}

var reminderMilestones = []milestone{
	{
		name:   "72h",
		before: 72 * time.Hour,
		text: func(patient, doctor string, a *Appointment) string {
			return fmt.Sprintf("Hi %s, reminder about your appointment with %s on %s at %s. Please complete your intake form.",
				patient, doctor, timegrid.FormatDate(a.Date), a.Start)
		},
	},
	{
		name:   "24h",
		before: 24 * time.Hour,
		text: func(patient, doctor string, a *Appointment) string {
			return fmt.Sprintf("Hi %s, your appointment with %s is tomorrow at %s. Have you completed your intake form? Is your visit confirmed?",
				patient, doctor, a.Start)
		},
	},
	{
		name:   "4h",
		before: 4 * time.Hour,
		text: func(patient, doctor string, a *Appointment) string {
			return fmt.Sprintf("Final reminder: your appointment with %s at %s is in 4 hours. Please confirm attendance.",
				doctor, a.Location)
		},
	},
}

var reminderChannels = []Channel{ChannelEmail, ChannelSMS}

// BuildReminders stamps the Scheduled reminders for a freshly booked
// appointment: one per milestone and channel.
func BuildReminders(a *Appointment, patient *Patient, doctor *Doctor, now time.Time) []Reminder {
	startsAt := a.StartsAt()
	reminders := make([]Reminder, 0, len(reminderMilestones)*len(reminderChannels))

	for _, m := range reminderMilestones {
		msg := m.text(patient.FullName(), doctor.Name, a)
		for _, ch := range reminderChannels {
			reminders = append(reminders, Reminder{
				ID:            uuid.NewString(),
				AppointmentID: a.ID,
				Milestone:     m.name,
				FireAt:        startsAt.Add(-m.before),
				Channel:       ch,
				Message:       msg,
				State:         ReminderScheduled,
				CreatedAt:     now,
			})
		}
	}

	return reminders
}
