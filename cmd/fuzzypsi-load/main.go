package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/fuzzy-psi/internal/psi"
	"github.com/mundrapranay/fuzzy-psi/pkg/client"
)

var (
	serverAddr = flag.String("server", "127.0.0.1:9090", "Mailbox server address (host:port)")
	sessions   = flag.Int("sessions", 10, "Number of concurrent PSI sessions")
	numPoints  = flag.Int("points", 150, "Points per party")
	overlap    = flag.Float64("overlap", 0.2, "Fraction of receiver points placed near a sender point")
	configFile = flag.String("config", "", "Path to the protocol configuration file (default: polynomial defaults)")
	timeout    = flag.Duration("timeout", time.Minute, "Per-session timeout")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "Seed of the point generator")
)

type stats struct {
	completed  atomic.Int64
	failed     atomic.Int64
	matches    atomic.Int64
	totalNanos atomic.Int64
}

// pointSets draws a sender set and a receiver set in which roughly overlap·n
// receiver points lie within delta of some sender point.
func pointSets(rng *rand.Rand, n int, overlap float64, delta uint64) (a, b []uint64) {
	const spread = 1 << 40
	a = make([]uint64, n)
	for i := range a {
		a[i] = uint64(rng.Int63n(spread))
	}
	b = make([]uint64, n)
	for i := range b {
		if rng.Float64() < overlap {
			b[i] = a[rng.Intn(n)] + uint64(rng.Int63n(int64(delta)+1))
		} else {
			b[i] = uint64(rng.Int63n(spread))
		}
	}
	return a, b
}

func runSession(ctx context.Context, c *client.Client, id string, config psi.Config, a, b []uint64) ([]uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- psi.RunReceiver(ctx, config, b, c.Transport(id), psi.Options{})
	}()

	matches, err := psi.RunSender(ctx, config, a, c.Transport(id), psi.Options{})
	if rerr := <-recvErr; err == nil {
		err = rerr
	}
	if derr := c.Discard(context.Background(), id); derr != nil && err == nil {
		err = derr
	}
	return matches, err
}

func main() {
	flag.Parse()
	logger := hclog.New(&hclog.LoggerOptions{Name: "fuzzypsi-load", Level: hclog.Info})

	config := psi.DefaultConfig()
	config.Strategy = "polynomial"
	if *configFile != "" {
		loaded, err := psi.LoadConfig(*configFile)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		config = *loaded
	}

	fmt.Printf("Fuzzy PSI load test\n")
	fmt.Printf("   Server:            %s\n", *serverAddr)
	fmt.Printf("   Concurrent sessions: %d\n", *sessions)
	fmt.Printf("   Points per party:  %d\n", *numPoints)
	fmt.Printf("   Strategy:          %s\n", config.Strategy)
	fmt.Println()

	c, err := client.NewClient(*serverAddr)
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	var st stats
	var wg sync.WaitGroup
	run := fmt.Sprintf("load-%d", time.Now().UnixNano())
	start := time.Now()

	for i := 0; i < *sessions; i++ {
		rng := rand.New(rand.NewSource(*seed + int64(i)))
		a, b := pointSets(rng, *numPoints, *overlap, config.Delta)

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			began := time.Now()
			matches, err := runSession(context.Background(), c, id, config, a, b)
			if err != nil {
				st.failed.Add(1)
				logger.Warn("session failed", "session", id, "error", err)
				return
			}
			st.completed.Add(1)
			st.matches.Add(int64(len(matches)))
			st.totalNanos.Add(int64(time.Since(began)))
		}(fmt.Sprintf("%s-%d", run, i))
	}
	wg.Wait()
	elapsed := time.Since(start)

	completed := st.completed.Load()
	fmt.Printf("Results\n")
	fmt.Printf("   Sessions completed: %d\n", completed)
	fmt.Printf("   Sessions failed:    %d\n", st.failed.Load())
	fmt.Printf("   Matches found:      %d\n", st.matches.Load())
	fmt.Printf("   Wall time:          %s\n", elapsed)
	if completed > 0 {
		fmt.Printf("   Mean session time:  %s\n", time.Duration(st.totalNanos.Load()/completed))
		fmt.Printf("   Sessions per sec:   %.2f\n", float64(completed)/elapsed.Seconds())
	}
	if st.failed.Load() > 0 {
		os.Exit(1)
	}
}
