package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-scheduler/internal/app"
	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/config"
	"github.com/hackgods/clinic-appointment-scheduler/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

// The clinic's own roster, always seeded first.
var roster = []struct {
	name, specialty, location string
}{
	{"Dr. Sarah Chen", "Allergy & Immunology", "Main Clinic - Downtown"},
	{"Dr. Michael Rodriguez", "Pediatric Allergist", "North Branch"},
	{"Dr. Emily Johnson", "Dermatology", "South Branch"},
	{"Dr. Robert Kim", "Immunology Researcher", "West Side Clinic"},
}

var specialties = []string{
	"Allergy & Immunology",
	"Pediatric Allergist",
	"Dermatology",
	"Pulmonology",
	"ENT",
}

var locations = []string{
	"Main Clinic - Downtown",
	"North Branch",
	"South Branch",
	"West Side Clinic",
}

func main() {
	var extraDoctors, patients int

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill Postgres with the clinic roster, fake doctors and fake patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), extraDoctors, patients)
		},
	}
	rootCmd.Flags().IntVar(&extraDoctors, "doctors", 6, "fake doctors to add after the roster")
	rootCmd.Flags().IntVar(&patients, "patients", 500, "fake patients to add")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, extraDoctors, patients int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.Setup(cfg.Env, cfg.LogLevel, "seed")

	if cfg.StoreBackend != config.StorePostgres {
		return errors.New("seed needs STORE_BACKEND=postgres")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(ctx, a.Service, extraDoctors); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPatients(ctx, a.Service, patients); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedDoctors(ctx context.Context, svc *appointment.Service, extra int) error {
	log.Info().Int("count", len(roster)+extra).Msg("seeding doctors")

	for _, r := range roster {
		if _, err := svc.CreateDoctor(ctx, fakeSchedule(r.name, r.specialty, r.location)); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}

	for i := 0; i < extra; i++ {
		d := fakeSchedule(
			"Dr. "+gofakeit.FirstName()+" "+gofakeit.LastName(),
			specialties[gofakeit.Number(0, len(specialties)-1)],
			locations[gofakeit.Number(0, len(locations)-1)],
		)
		if _, err := svc.CreateDoctor(ctx, d); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}

	log.Info().Msg("doctors seeded")
	return nil
}

// fakeSchedule builds a valid working day: start 07:00-10:00, eight to nine
// hours long, with an hour's lunch roughly in the middle.
func fakeSchedule(name, specialty, location string) appointment.Doctor {
	start := timegrid.Minute(gofakeit.Number(7, 10) * 60)
	end := start + timegrid.Minute(gofakeit.Number(8, 9)*60)
	lunch := start + timegrid.Minute(gofakeit.Number(3, 4)*60) + timegrid.Minute(gofakeit.RandomInt([]int{0, 30}))

	days := appointment.WorkingDays{
		Mon: gofakeit.Bool(),
		Tue: gofakeit.Bool(),
		Wed: gofakeit.Bool(),
		Thu: gofakeit.Bool(),
		Fri: gofakeit.Bool(),
	}
	if !days.Mon && !days.Wed {
		days.Mon = true
	}

	return appointment.Doctor{
		Name:       name,
		Specialty:  specialty,
		Location:   location,
		Days:       days,
		WorkStart:  start,
		WorkEnd:    end,
		LunchStart: lunch,
		LunchEnd:   lunch + 60,
	}
}

func seedPatients(ctx context.Context, svc *appointment.Service, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	insurers := []string{"Aetna", "Blue Cross", "Cigna", "UnitedHealthcare", ""}

	for i := 0; i < count; i++ {
		patientType := appointment.PatientNew
		var lastVisit *time.Time
		if gofakeit.Bool() {
			patientType = appointment.PatientReturning
			lv := timegrid.Day(gofakeit.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()))
			lastVisit = &lv
		}

		p := appointment.Patient{
			FirstName:   gofakeit.FirstName(),
			LastName:    gofakeit.LastName(),
			DateOfBirth: timegrid.Day(gofakeit.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))),
			Phone:       gofakeit.Phone(),
			Email:       gofakeit.Email(),
			Type:        patientType,
			LastVisit:   lastVisit,
		}
		if company := insurers[gofakeit.Number(0, len(insurers)-1)]; company != "" {
			p.Insurance = appointment.Insurance{
				Company:     company,
				MemberID:    gofakeit.Numerify("MBR#########"),
				GroupNumber: gofakeit.Numerify("GRP#####"),
			}
		}

		if _, err := svc.CreatePatient(ctx, p); err != nil {
			return err
		}

		if (i+1)%100 == 0 {
			log.Info().Int("done", i+1).Int("total", count).Msg("patients seeded")
		}
	}

	log.Info().Msg("patients seeded")
	return nil
}
