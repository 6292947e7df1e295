// Command crmauth-loadtest opens many tabs over one Redis-backed device and
// measures route authorization throughput and how fast a logout in one tab
// reaches all the others.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	adwoodcrm "github.com/Alijah8/adwood-crm"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider/memory"
	"github.com/Alijah8/adwood-crm/storage"
)

const (
	loadEmail    = "loadtest@adwood.test"
	loadPassword = "correct-horse"
)

func main() {
	var (
		tabs        = flag.Int("tabs", 32, "number of tabs sharing the device")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "authorize calls in the throughput phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "crm:loadtest:", "device key prefix")
		timeout     = flag.Duration("timeout", 10*time.Second, "how long to wait for logout to reach every tab")
	)
	flag.Parse()

	if *tabs < 2 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tabs must be >= 2; concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := memory.NewBackend(memory.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	if _, err := backend.AddUser(memory.UserSpec{
		Email:    loadEmail,
		Password: loadPassword,
		Name:     "Load Test",
		Role:     permission.RoleManager,
		Active:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "seed user: %v\n", err)
		os.Exit(1)
	}

	device := storage.NewRedis(client, storage.RedisOptions{Prefix: *prefix, Logger: logger})
	cfg := adwoodcrm.DefaultConfig()
	cfg.Refresh.AutoRefresh = false
	cfg.MFA.Enforce = false

	engines := make([]*adwoodcrm.Engine, *tabs)
	fmt.Printf("opening %d tabs...\n", *tabs)
	startOpen := time.Now()
	for i := range engines {
		tab := device.Tab()
		e, err := adwoodcrm.New().
			WithConfig(cfg).
			WithIdentityProvider(backend.Client(tab, cfg.Storage.TokenKey, logger)).
			WithProfileStore(backend).
			WithStorage(tab).
			WithLogger(logger).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build tab %d: %v\n", i, err)
			os.Exit(1)
		}
		defer e.Close()
		engines[i] = e

		if i == 0 {
			_ = e.Initialize(ctx)
			if err := e.Login(ctx, loadEmail, loadPassword); err != nil {
				fmt.Fprintf(os.Stderr, "login: %v\n", err)
				os.Exit(1)
			}
			continue
		}
		// Restoring refreshes the shared token, so tabs open one at a time.
		if err := e.Initialize(ctx); err != nil || !e.State().Authenticated() {
			fmt.Fprintf(os.Stderr, "restore tab %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	fmt.Printf("opened in %s\n", time.Since(startOpen).Round(time.Millisecond))

	authorizeStats := runAuthorizePhase(ctx, engines, *ops, *concurrency)
	logoutStats, missed := runLogoutPhase(ctx, engines, *timeout)

	fmt.Println("---- results ----")
	printStats("authorize", authorizeStats)
	printStats("logout-propagation", logoutStats)
	if missed > 0 {
		fmt.Printf("tabs still signed in after %s: %d\n", *timeout, missed)
		os.Exit(1)
	}
}

func runAuthorizePhase(ctx context.Context, engines []*adwoodcrm.Engine, ops, concurrency int) phaseStats {
	var paths []string
	for _, rule := range permission.DefaultRouteTable().Rules() {
		paths = append(paths, rule.Path)
	}
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				e := engines[r.Intn(len(engines))]
				path := paths[r.Intn(len(paths))]
				t0 := time.Now()
				d := e.Authorize(ctx, path)
				elapsed := time.Since(t0)
				if d.Kind == adwoodcrm.DecisionLoading || d.Kind == adwoodcrm.DecisionRedirectLogin {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runLogoutPhase signs out in the first tab and records, per other tab, the
// delay until that tab dropped its session.
func runLogoutPhase(ctx context.Context, engines []*adwoodcrm.Engine, timeout time.Duration) (phaseStats, int) {
	others := engines[1:]
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(others))
		done      = make(chan struct{})
		remaining = int64(len(others))
		start     time.Time
	)

	for _, e := range others {
		var once sync.Once
		unsubscribe := e.Subscribe(func(st adwoodcrm.State) {
			if st.Authenticated() {
				return
			}
			once.Do(func() {
				mu.Lock()
				latencies = append(latencies, time.Since(start))
				mu.Unlock()
				if atomic.AddInt64(&remaining, -1) == 0 {
					close(done)
				}
			})
		})
		defer unsubscribe()
	}

	start = time.Now()
	engines[0].Logout(ctx)

	select {
	case <-done:
	case <-time.After(timeout):
	}
	total := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	samples := append([]time.Duration(nil), latencies...)
	missed := len(others) - len(samples)
	return computeStats(total, samples, int64(missed)), missed
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
