package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/fuzzy-psi/internal/okvs"
	"github.com/mundrapranay/fuzzy-psi/internal/psi"
)

var (
	configFile = flag.String("config", "", "Path to the protocol configuration file (default: built-in defaults)")
	senderFile = flag.String("sender", "", "Point file of party A (required)")
	recvFile   = flag.String("receiver", "", "Point file of party B (required)")
	retries    = flag.Int("retries", 8, "Fresh seeds to try when an encoding is singular")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := hclog.Info
	if *verbose {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "fuzzypsi-demo", Level: level})

	if *senderFile == "" || *recvFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -sender and -receiver are required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s -sender <points> -receiver <points> [-config <psi.yaml>]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nExample config file:\n")
		printExampleConfig()
		os.Exit(1)
	}

	config := psi.DefaultConfig()
	if *configFile != "" {
		loaded, err := psi.LoadConfig(*configFile)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		config = *loaded
	}

	senderPoints, err := psi.LoadPoints(*senderFile)
	if err != nil {
		logger.Error("failed to load sender points", "error", err)
		os.Exit(1)
	}
	receiverPoints, err := psi.LoadPoints(*recvFile)
	if err != nil {
		logger.Error("failed to load receiver points", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	matches, err := runWithRetries(ctx, config, senderPoints, receiverPoints, *retries, psi.Options{Logger: logger})
	if err != nil {
		logger.Error("protocol failed", "error", err)
		os.Exit(1)
	}

	printResults(config, len(senderPoints), len(receiverPoints), matches, time.Since(start))
}

// runWithRetries draws a new hash seed whenever the banded system turns out
// singular. Other failures end the run.
func runWithRetries(ctx context.Context, config psi.Config, a, b []uint64, retries int, opts psi.Options) ([]uint64, error) {
	for attempt := 0; ; attempt++ {
		matches, err := psi.Run(ctx, config, a, b, opts)
		if err == nil || !errors.Is(err, okvs.ErrZeroRow) || attempt >= retries {
			return matches, err
		}

		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("failed to draw seed: %w", err)
		}
		config.Seed = hex.EncodeToString(seed)
		if opts.Logger != nil {
			opts.Logger.Warn("singular encoding, retrying with a fresh seed", "attempt", attempt+1, "error", err)
		}
	}
}

func printResults(config psi.Config, a, b int, matches []uint64, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("Fuzzy PSI")
	fmt.Printf("  Strategy:           %s\n", config.Strategy)
	fmt.Printf("  Delta:              %d\n", config.Delta)
	fmt.Printf("  Sender points:      %d\n", a)
	fmt.Printf("  Receiver points:    %d\n", b)
	fmt.Printf("  Elapsed:            %s\n", elapsed)
	fmt.Printf("  Matches:            %d\n", len(matches))
	for _, m := range matches {
		fmt.Printf("    %d\n", m)
	}
	fmt.Println()
}

func printExampleConfig() {
	example := `delta: 2
strategy: banded  # or 'polynomial'
epsilon: 0.1
max_band_width: 128
min_band_width: 8
# seed: 00112233  # hex, shared by both parties
min_encoding_size: 64
sender_padding: 1
receiver_padding: 2
# padding_noise_lambda: 0.5  # enables geometric padding slack
max_padding_noise: 64
`
	fmt.Print(example)
}
