package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-appointment-scheduler/internal/api"
	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduler/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduler/internal/timegrid"
)

type SimConfig struct {
	APIBaseURL string
	Workers    int
	Attempts   int
	Patients   int
	Date       string
	RPS        float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0
	}
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	idx := len(latencies) * p / 100
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return latencies[idx]
}

type Simulator struct {
	config   SimConfig
	client   *http.Client
	doctorID string
	patients []string
	limiter  *rate.Limiter
	booking  OperationMetrics
}

func main() {
	cfg := SimConfig{}

	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race concurrent bookings against a running api-server and check for overlaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	rootCmd.Flags().IntVar(&cfg.Workers, "workers", 20, "concurrent booking workers")
	rootCmd.Flags().IntVar(&cfg.Attempts, "attempts", 10, "booking attempts per worker")
	rootCmd.Flags().IntVar(&cfg.Patients, "patients", 50, "patients to register")
	rootCmd.Flags().StringVar(&cfg.Date, "date", nextMonday(), "day to book (YYYY-MM-DD)")
	rootCmd.Flags().Float64Var(&cfg.RPS, "rps", 0, "overall booking rate cap, 0 for unlimited")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg SimConfig) error {
	logging.Setup("dev", "info", "simulate")

	if _, err := timegrid.ParseDate(cfg.Date); err != nil {
		return err
	}
	if cfg.Workers <= 0 || cfg.Attempts <= 0 || cfg.Patients <= 0 {
		return errors.New("workers, attempts and patients must be positive")
	}

	sim := &Simulator{config: cfg, client: &http.Client{Timeout: 10 * time.Second}}
	if cfg.RPS > 0 {
		sim.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	if err := sim.setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	start := time.Now()
	sim.run(ctx)
	elapsed := time.Since(start)

	overlaps, booked, err := sim.verify(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	fmt.Printf("\nBooking simulation: %d workers x %d attempts in %s\n", cfg.Workers, cfg.Attempts, elapsed.Round(time.Millisecond))
	fmt.Printf("  total=%d success=%d conflict=%d error=%d\n",
		sim.booking.Total, sim.booking.Success, sim.booking.Conflict, sim.booking.Error)
	fmt.Printf("  p50=%s p95=%s p99=%s\n",
		sim.booking.Percentile(50), sim.booking.Percentile(95), sim.booking.Percentile(99))
	fmt.Printf("  confirmed appointments=%d overlapping pairs=%d\n", booked, overlaps)

	if overlaps > 0 {
		return fmt.Errorf("%d overlapping appointments", overlaps)
	}
	return nil
}

func nextMonday() string {
	d := timegrid.Day(time.Now()).AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return timegrid.FormatDate(d)
}

func (s *Simulator) setup(ctx context.Context) error {
	var doc api.DoctorResponse
	status, err := s.do(ctx, http.MethodPost, "/doctors", api.DoctorRequest{
		Name:       "Dr. " + gofakeit.LastName(),
		Specialty:  "Allergy & Immunology",
		Location:   "Main Clinic - Downtown",
		Days:       appointment.WorkingDays{Mon: true, Tue: true, Wed: true, Thu: true, Fri: true},
		WorkStart:  "09:00",
		WorkEnd:    "17:00",
		LunchStart: "12:30",
		LunchEnd:   "13:30",
	}, &doc)
	if err != nil || status != http.StatusCreated {
		return fmt.Errorf("create doctor: status=%d err=%v", status, err)
	}
	s.doctorID = doc.ID

	for i := 0; i < s.config.Patients; i++ {
		var p api.PatientResponse
		status, err := s.do(ctx, http.MethodPost, "/patients", api.PatientRequest{
			FirstName:   gofakeit.FirstName(),
			LastName:    gofakeit.LastName(),
			DateOfBirth: timegrid.FormatDate(gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-18, 0, 0))),
			Phone:       gofakeit.Phone(),
			Email:       gofakeit.Email(),
			Type:        gofakeit.RandomString([]string{"new", "returning"}),
		}, &p)
		if err != nil || status != http.StatusCreated {
			return fmt.Errorf("create patient: status=%d err=%v", status, err)
		}
		s.patients = append(s.patients, p.ID)
	}

	log.Info().Str("doctor_id", s.doctorID).Int("patients", len(s.patients)).Msg("setup complete")
	return nil
}

// run has every worker pick a slot from the same day at random, so many
// requests race for the same intervals.
func (s *Simulator) run(ctx context.Context) {
	types := []string{"Initial Consultation", "Follow-up", "Allergy Testing"}

	var wg sync.WaitGroup
	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < s.config.Attempts; i++ {
				if s.limiter != nil {
					if err := s.limiter.Wait(ctx); err != nil {
						return
					}
				}
				start := timegrid.Minute(9*60 + rand.IntN(32)*15)
				req := api.CreateAppointmentRequest{
					PatientID: s.patients[rand.IntN(len(s.patients))],
					DoctorID:  s.doctorID,
					Date:      s.config.Date,
					Start:     start.String(),
					Type:      types[rand.IntN(len(types))],
				}

				t0 := time.Now()
				status, err := s.do(ctx, http.MethodPost, "/appointments", req, nil)
				if err != nil {
					status = 0
				}
				s.booking.Record(time.Since(t0), status)
			}
		}()
	}
	wg.Wait()
}

func (s *Simulator) verify(ctx context.Context) (int, int, error) {
	var appts []api.AppointmentResponse
	status, err := s.do(ctx, http.MethodGet, "/appointments?doctor_id="+s.doctorID+"&date="+s.config.Date, nil, &appts)
	if err != nil || status != http.StatusOK {
		return 0, 0, fmt.Errorf("list appointments: status=%d err=%v", status, err)
	}

	type interval struct{ start, end timegrid.Minute }
	var confirmed []interval
	for _, a := range appts {
		if a.Status != "confirmed" {
			continue
		}
		start, err := timegrid.ParseTime(a.Start)
		if err != nil {
			return 0, 0, err
		}
		confirmed = append(confirmed, interval{start, start + timegrid.Minute(a.Duration)})
	}

	overlaps := 0
	for i := range confirmed {
		for j := i + 1; j < len(confirmed); j++ {
			a, b := confirmed[i], confirmed[j]
			if a.start < b.end && b.start < a.end {
				overlaps++
			}
		}
	}
	return overlaps, len(confirmed), nil
}

func (s *Simulator) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
