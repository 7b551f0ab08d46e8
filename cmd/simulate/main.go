package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	RaceContenders int
	BookingRatio   float64
	StatusRatio    float64
	ReadRatio      float64
	RequesterLimit int
	ProviderLimit  int
	DaysAhead      int
	PostgresDSN    string
	JWTSecret      string
}

type providerRef struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

type DataPool struct {
	Requesters []uuid.UUID
	Providers  []providerRef
	mu         sync.RWMutex
	bookings   []createdBooking // bookings made during the run
}

type createdBooking struct {
	ID       uuid.UUID
	Provider providerRef
}

func (dp *DataPool) AddBooking(b createdBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) GetRandomBooking(rng *rand.Rand) (createdBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return createdBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
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
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Race          OperationMetrics
	Booking       OperationMetrics
	StatusChange  OperationMetrics
	FreeSlots     OperationMetrics
	ListMine      OperationMetrics
	ListProvider  OperationMetrics
	RaceWinners   int64
	RaceConflicts int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	auth    *auth.Authenticator
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d race=%d booking=%.2f status=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.RaceContenders, cfg.BookingRatio, cfg.StatusRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.WithMaxConns(4))
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d requesters, %d providers", len(dataPool.Requesters), len(dataPool.Providers))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		auth: auth.NewAuthenticator(cfg.JWTSecret, ""),
	}

	sim.RunRace()
	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		RaceContenders: getInt("SIM_RACE_CONTENDERS", 50),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:    getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		RequesterLimit: getInt("SIM_REQUESTER_LIMIT", 4000),
		ProviderLimit:  getInt("SIM_PROVIDER_LIMIT", 100),
		DaysAhead:      getInt("SIM_DAYS_AHEAD", 14),
		PostgresDSN:    baseCfg.PostgresDSN,
		JWTSecret:      baseCfg.JWTSecret,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM requesters LIMIT $1`, cfg.RequesterLimit)
	if err != nil {
		return nil, fmt.Errorf("load requesters: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Requesters = append(dataPool.Requesters, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT id, COALESCE(user_id, id) FROM providers
		WHERE NOT is_blocked AND weekly_availability IS NOT NULL
		LIMIT $1
	`, cfg.ProviderLimit)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for rows.Next() {
		var p providerRef
		if err := rows.Scan(&p.ID, &p.UserID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Providers = append(dataPool.Providers, p)
	}
	rows.Close()

	if len(dataPool.Requesters) == 0 {
		return nil, fmt.Errorf("no requesters loaded")
	}
	if len(dataPool.Providers) == 0 {
		return nil, fmt.Errorf("no providers loaded")
	}

	return dataPool, nil
}

// RunRace fires many requesters at one free slot at the same instant. Exactly
// one of them must win.
func (s *Simulator) RunRace() {
	if s.config.RaceContenders <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		provider providerRef
		date     string
		slot     string
	)
	for attempt := 0; attempt < 20 && slot == ""; attempt++ {
		provider = s.pool.Providers[rng.Intn(len(s.pool.Providers))]
		date = s.randomDate(rng)
		if slots, ok := s.freeSlots(ctx, provider.ID, date); ok && len(slots) > 0 {
			slot = slots[rng.Intn(len(slots))]
		}
	}
	if slot == "" {
		log.Println("race skipped: no free slot found")
		return
	}

	log.Printf("race: %d contenders for provider=%s date=%s slot=%q", s.config.RaceContenders, provider.ID, date, slot)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.RaceContenders; i++ {
		requester := s.pool.Requesters[rng.Intn(len(s.pool.Requesters))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, _, latency := s.book(ctx, requester, provider, date, slot)
			s.metrics.Race.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
			switch status {
			case http.StatusCreated:
				atomic.AddInt64(&s.metrics.RaceWinners, 1)
			case http.StatusConflict:
				atomic.AddInt64(&s.metrics.RaceConflicts, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	winners := atomic.LoadInt64(&s.metrics.RaceWinners)
	if winners != 1 {
		log.Printf("RACE VIOLATION: %d winners for one slot", winners)
	} else {
		log.Println("race complete: exactly one winner")
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else if r < s.config.BookingRatio+s.config.StatusRatio {
				s.doStatusChange(ctx, rng)
			} else {
				switch rng.Intn(3) {
				case 0:
					s.doFreeSlots(ctx, rng)
				case 1:
					s.doListMine(ctx, rng)
				case 2:
					s.doListProvider(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	requester := s.pool.Requesters[rng.Intn(len(s.pool.Requesters))]
	date := s.randomDate(rng)

	slots, ok := s.freeSlots(ctx, provider.ID, date)
	if !ok || len(slots) == 0 {
		return
	}

	status, id, latency := s.book(ctx, requester, provider, date, slots[rng.Intn(len(slots))])
	if status == http.StatusCreated && id != uuid.Nil {
		s.pool.AddBooking(createdBooking{ID: id, Provider: provider})
	}
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doStatusChange(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.GetRandomBooking(rng)
	if !ok {
		return
	}

	statuses := []string{"confirmed", "completed", "cancelled"}
	body, _ := json.Marshal(map[string]string{"status": statuses[rng.Intn(len(statuses))]})
	token := s.token(b.Provider.UserID, auth.RoleProvider)

	start := time.Now()
	status := s.send(ctx, http.MethodPut, fmt.Sprintf("/bookings/%s/status", b.ID), token, body, nil)
	s.metrics.StatusChange.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doFreeSlots(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]

	start := time.Now()
	_, ok := s.freeSlots(ctx, provider.ID, s.randomDate(rng))
	s.metrics.FreeSlots.Record(time.Since(start), ok, false)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	requester := s.pool.Requesters[rng.Intn(len(s.pool.Requesters))]

	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/bookings/mine", s.token(requester, auth.RoleRequester), nil, nil)
	s.metrics.ListMine.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) doListProvider(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]

	start := time.Now()
	status := s.send(ctx, http.MethodGet, "/bookings/provider/mine", s.token(provider.UserID, auth.RoleProvider), nil, nil)
	s.metrics.ListProvider.Record(time.Since(start), status == http.StatusOK, false)
}

func (s *Simulator) book(ctx context.Context, requester uuid.UUID, provider providerRef, date, slot string) (int, uuid.UUID, time.Duration) {
	body, _ := json.Marshal(map[string]string{
		"provider_id":  provider.ID.String(),
		"date":         date,
		"slot_label":   slot,
		"mode":         "in-person",
		"service_name": "General consultation",
	})

	var resp struct {
		Data struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}

	start := time.Now()
	status := s.send(ctx, http.MethodPost, "/bookings", s.token(requester, auth.RoleRequester), body, &resp)
	return status, resp.Data.ID, time.Since(start)
}

func (s *Simulator) freeSlots(ctx context.Context, providerID uuid.UUID, date string) ([]string, bool) {
	var resp struct {
		Data struct {
			Slots []string `json:"slots"`
		} `json:"data"`
	}
	status := s.send(ctx, http.MethodGet, fmt.Sprintf("/providers/%s/availability?date=%s", providerID, date), "", nil, &resp)
	return resp.Data.Slots, status == http.StatusOK
}

// send performs one request and returns the status code, or 0 on transport errors.
func (s *Simulator) send(ctx context.Context, method, path, token string, body []byte, out any) int {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func (s *Simulator) token(id uuid.UUID, role auth.Role) string {
	token, err := s.auth.IssueToken(auth.Principal{ID: id, Role: role}, time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *Simulator) randomDate(rng *rand.Rand) string {
	return time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)).Format("2006-01-02")
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	if s.config.RaceContenders > 0 {
		fmt.Printf("Slot race: winners=%d conflicts=%d contenders=%d\n\n",
			atomic.LoadInt64(&s.metrics.RaceWinners),
			atomic.LoadInt64(&s.metrics.RaceConflicts),
			s.config.RaceContenders)
	}

	printOperationReport("Race booking", &s.metrics.Race)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.StatusChange)
	printOperationReport("Free slots", &s.metrics.FreeSlots)
	printOperationReport("List mine", &s.metrics.ListMine)
	printOperationReport("List by provider", &s.metrics.ListProvider)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
