package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a reminder over its channel.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, r Reminder) error {
	log.Info().
		Str("reminder_id", r.ID).
		Str("appointment_id", r.AppointmentID).
		Str("channel", string(r.Channel)).
		Str("milestone", r.Milestone).
		Msg(r.Message)
	return nil
}

// SendDueReminders is intended to be called by the worker periodically. It
// sends Scheduled reminders whose fire time has passed and marks them Sent.
// A failed delivery leaves the reminder Scheduled for the next run. Reminders
// whose appointment was cancelled after the scan are skipped.
func (s *Service) SendDueReminders(ctx context.Context, notifier Notifier, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	due, err := s.repo.FindDueReminders(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("find due reminders: %w", err)
	}

	sent := 0
	for _, r := range due {
		appt, err := s.repo.GetAppointmentByID(ctx, r.AppointmentID)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			log.Error().Err(err).Str("reminder_id", r.ID).Msg("failed to load reminder appointment")
			continue
		}
		if appt == nil || appt.Status != StatusConfirmed {
			log.Debug().Str("reminder_id", r.ID).Str("appointment_id", r.AppointmentID).Msg("skipping reminder for inactive appointment")
			s.metrics.ObserveReminder(string(r.Channel), "skipped")
			continue
		}

		if err := notifier.Notify(ctx, r); err != nil {
			log.Error().Err(err).Str("reminder_id", r.ID).Msg("failed to send reminder")
			s.metrics.ObserveReminder(string(r.Channel), "failed")
			continue
		}

		if err := s.repo.MarkReminderSent(ctx, r.ID, s.now()); err != nil {
			if errors.Is(err, ErrReminderNotFound) {
				log.Warn().Str("reminder_id", r.ID).Msg("reminder cancelled while sending")
				s.metrics.ObserveReminder(string(r.Channel), "skipped")
				continue
			}
			log.Error().Err(err).Str("reminder_id", r.ID).Msg("failed to mark reminder sent")
			continue
		}
		s.metrics.ObserveReminder(string(r.Channel), "sent")
		sent++
	}

	return sent, nil
}
