// Command storeguard-loadtest measures login, session validation and cart throughput
// against Redis-backed stores. It starts miniredis unless -redis-addr or REDIS_ADDR
// is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cart"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/permission"
)

const loadPassword = "Loadtest-password-1"

type account struct {
	email string
	ip    string
	token string
}

func main() {
	var (
		users       = flag.Int("users", 2000, "number of users to seed and log in")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + cart)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sglt", "redis key prefix")
		cost        = flag.Int("bcrypt-cost", bcrypt.MinCost, "bcrypt cost used for seeded users")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
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

	cfg := storeguard.DefaultConfig()
	cfg.Security.Environment = storeguard.EnvTest
	cfg.Password.BcryptRounds = *cost
	cfg.KeyPrefix = *prefix

	repo := storeguard.NewMemoryUserRepository()
	svc, err := storeguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserRepository(repo).
		WithCatalog(cart.NewStaticCatalog(cart.Product{ID: "sku-1", Name: "Load item", Price: 500, MaxQuantity: 100})).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	accounts, err := seed(svc, repo, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	loginStats := runPhase(len(accounts), *concurrency, func(_ *rand.Rand, i int) error {
		a := &accounts[i]
		res := svc.Login(clientCtx(ctx, a), storeguard.Credentials{Email: a.email, Password: loadPassword}, storeguard.LoginOptions{})
		if !res.Success {
			return res.Err
		}
		a.token = res.Token
		return nil
	})
	validateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &accounts[r.Intn(len(accounts))]
		_, _, err := svc.RequireAuth(clientCtx(ctx, a), a.token)
		return err
	})
	cartStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		a := &accounts[r.Intn(len(accounts))]
		actx := clientCtx(ctx, a)
		c, err := svc.Carts().GetOrCreate(actx, a.token)
		if err != nil {
			return err
		}
		if len(c.Items) > 0 {
			_, err = svc.Carts().Clear(actx, c.ID)
			return err
		}
		_, err = svc.Carts().AddItem(actx, c.ID, "sku-1", 1)
		return err
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("validate", validateStats)
	printStats("cart", cartStats)
}

func seed(svc *storeguard.Service, repo *storeguard.MemoryUserRepository, n int) ([]account, error) {
	fmt.Printf("seeding %d users...\n", n)
	start := time.Now()

	hash, err := svc.HashPassword(loadPassword)
	if err != nil {
		return nil, err
	}
	accounts := make([]account, n)
	for i := range accounts {
		accounts[i] = account{
			email: fmt.Sprintf("load-%d@storeguard.local", i),
			ip:    fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF),
		}
		err := repo.Put(storeguard.User{
			ID:            fmt.Sprintf("load-%d", i),
			Email:         accounts[i].email,
			Role:          permission.User,
			PasswordHash:  hash,
			Active:        true,
			EmailVerified: true,
		})
		if err != nil {
			return nil, err
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return accounts, nil
}

func clientCtx(ctx context.Context, a *account) context.Context {
	return storeguard.WithClient(ctx, device.Client{IP: a.ip, UserAgent: "storeguard-loadtest/1.0"})
}

// runPhase runs ops calls of fn over concurrency workers. fn receives the op index.
func runPhase(ops, concurrency int, fn func(r *rand.Rand, i int) error) phaseStats {
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
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
