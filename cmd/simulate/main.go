package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// simulate fires N concurrent bookings for one slot at a running api-server
// and fails unless exactly one of them is accepted.

type SimConfig struct {
	APIBaseURL  string
	Concurrency int
	Date        string // empty picks the first open slot
	Time        string
	Timeout     time.Duration
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
	switch status {
	case http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, fastest, slowest, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	fastest = latencies[0]
	slowest = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]

	return avg, fastest, slowest, p50, p95
}

type Simulator struct {
	config  SimConfig
	client  *http.Client
	metrics OperationMetrics
	errors  sync.Map // status code -> error code seen
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if cfg.Concurrency < 2 {
		log.Fatalf("SIM_CONCURRENCY must be at least 2")
	}

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if sim.config.Date == "" || sim.config.Time == "" {
		date, t, err := sim.firstOpenSlot(ctx)
		if err != nil {
			log.Fatalf("pick slot: %v", err)
		}
		sim.config.Date, sim.config.Time = date, t
	}

	log.Printf("booking %s %s with %d concurrent requests", sim.config.Date, sim.config.Time, sim.config.Concurrency)
	sim.Run(ctx)
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.Success) != 1 {
		log.Printf("FAIL: expected exactly one 201, got %d", sim.metrics.Success)
		os.Exit(1)
	}
	log.Println("OK: exactly one booking was accepted")
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Concurrency: getInt("SIM_CONCURRENCY", 50),
		Date:        os.Getenv("SIM_DATE"),
		Time:        os.Getenv("SIM_TIME"),
		Timeout:     getDuration("SIM_TIMEOUT", 10*time.Second),
	}
}

func (s *Simulator) firstOpenSlot(ctx context.Context) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/api/appointments/availability?days=30", nil)
	if err != nil {
		return "", "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("availability returned %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Availability []struct {
				Date  string `json:"date"`
				Slots []struct {
					Time string `json:"time"`
				} `json:"slots"`
			} `json:"availability"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("decode availability: %w", err)
	}

	for _, d := range body.Data.Availability {
		if len(d.Slots) > 0 {
			return d.Date, d.Slots[0].Time, nil
		}
	}
	return "", "", fmt.Errorf("no open slots in the next 30 days")
}

func (s *Simulator) Run(ctx context.Context) {
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.doBooking(ctx)
		}()
	}

	close(start)
	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) doBooking(ctx context.Context) {
	reqBody := map[string]string{
		"action":           "book",
		"patient_name":     gofakeit.Name(),
		"patient_email":    gofakeit.Email(),
		"patient_phone":    gofakeit.Phone(),
		"appointment_date": s.config.Date,
		"appointment_time": s.config.Time,
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	status := 0
	if err == nil {
		defer resp.Body.Close()
		status = resp.StatusCode

		if status != http.StatusCreated {
			var errResp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Code != "" {
				s.errors.Store(status, errResp.Error.Code)
			}
		}
	}

	s.metrics.Record(latency, status)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Slot: %s %s\n", s.config.Date, s.config.Time)
	fmt.Printf("Concurrent requests: %d\n", s.config.Concurrency)
	fmt.Println()

	om := &s.metrics
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, fastest, slowest, p50, p95 := om.Stats()

	fmt.Printf("  201 Created: %d\n", success)
	fmt.Printf("  409 Conflict: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	if failed > 0 {
		fmt.Printf("  Other: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	s.errors.Range(func(k, v any) bool {
		fmt.Printf("  status %v -> %v\n", k, v)
		return true
	})
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), fastest.Round(time.Millisecond), slowest.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
