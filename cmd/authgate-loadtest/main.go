// Command authgate-loadtest measures captcha throughput against Redis and
// checks that every challenge is redeemed by exactly one concurrent caller.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate/captcha"
	"github.com/MrEthical07/authgate/expiring"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const fixedAnswer = "K7QM"

func main() {
	var (
		challenges  = flag.Int("challenges", 20000, "number of challenges to issue")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		racers      = flag.Int("racers", 8, "callers redeeming the same challenge in the race phase")
		raceIDs     = flag.Int("race-ids", 2000, "challenges used in the race phase")
		render      = flag.Bool("render", false, "draw real PNGs instead of a fixed payload")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix")
	)
	flag.Parse()

	if *challenges <= 0 || *concurrency <= 0 || *racers <= 1 || *raceIDs <= 0 {
		fmt.Fprintln(os.Stderr, "challenges, concurrency and race-ids must be > 0, racers must be > 1")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := captcha.Config{
		NewText: func(*rand.Rand) string { return fixedAnswer },
	}
	if !*render {
		cfg.Renderer = captcha.RendererFunc(func(string, *rand.Rand) ([]byte, error) {
			return []byte("\x89PNG"), nil
		})
	}
	store := expiring.NewRedisStore[string](client, expiring.StringCodec{}, expiring.RedisConfig{Prefix: *prefix})
	svc, err := captcha.New(store, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "captcha init failed: %v\n", err)
		os.Exit(1)
	}

	ids, generateStats := runGeneratePhase(ctx, svc, *challenges, *concurrency)
	validateStats := runValidatePhase(ctx, svc, ids, *concurrency)

	raceSeed, _ := runGeneratePhase(ctx, svc, *raceIDs, *concurrency)
	raceStats, doubles := runRacePhase(ctx, svc, raceSeed, *racers)

	fmt.Println("---- results ----")
	printStats("generate", generateStats)
	printStats("validate", validateStats)
	printStats("race", raceStats)
	if doubles > 0 {
		fmt.Printf("FAIL: %d challenges did not have exactly one winner\n", doubles)
		os.Exit(1)
	}
	fmt.Println("race: every challenge had exactly one winner")
}

func runGeneratePhase(ctx context.Context, svc *captcha.Service, n, concurrency int) ([]string, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		ids       = make([]string, n)
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				t0 := time.Now()
				ch, err := svc.Generate(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				ids[i] = ch.ID
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ids, computeStats(time.Since(start), latencies, failures)
}

func runValidatePhase(ctx context.Context, svc *captcha.Service, ids []string, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(ids))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(ids) {
					return
				}
				t0 := time.Now()
				ok, err := svc.Validate(ctx, ids[i], fixedAnswer)
				d := time.Since(t0)
				if err != nil || !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runRacePhase redeems every id from racers goroutines at once and counts
// the ids that did not end with exactly one successful caller.
func runRacePhase(ctx context.Context, svc *captcha.Service, ids []string, racers int) (phaseStats, int) {
	var (
		failures  int64
		doubles   int
		latencies = make([]time.Duration, 0, len(ids)*racers)
		mu        sync.Mutex
	)

	start := time.Now()
	for _, id := range ids {
		var (
			wg   sync.WaitGroup
			wins int32
			gate = make(chan struct{})
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				t0 := time.Now()
				ok, err := svc.Validate(ctx, id, fixedAnswer)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
		close(gate)
		wg.Wait()
		if wins != 1 {
			doubles++
		}
	}
	return computeStats(time.Since(start), latencies, failures), doubles
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
		return phaseStats{total: total}
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
	return samples[(len(samples)-1)*p/100]
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
