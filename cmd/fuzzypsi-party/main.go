package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/fuzzy-psi/internal/psi"
	"github.com/mundrapranay/fuzzy-psi/pkg/client"
)

var (
	serverAddr = flag.String("server", "127.0.0.1:9090", "Mailbox server address (host:port)")
	roleName   = flag.String("role", "", "Party role: 'sender' or 'receiver' (required)")
	session    = flag.String("session", "", "Session ID shared by both parties (required)")
	configFile = flag.String("config", "", "Path to the protocol configuration file (default: built-in defaults)")
	pointsFile = flag.String("points", "", "Path to this party's point file (required)")
	timeout    = flag.Duration("timeout", 5*time.Minute, "Give up when the peer has not answered by then")
	discard    = flag.Bool("discard", true, "Sender removes the session from the server when done")
	logLevel   = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fuzzypsi-party",
		Level: hclog.LevelFromString(*logLevel),
	})

	if *session == "" || *pointsFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -role sender|receiver -session <id> -points <file> [-config <psi.yaml>]\n", os.Args[0])
		os.Exit(1)
	}
	role, err := psi.ParseRole(*roleName)
	if err != nil {
		logger.Error("bad -role flag", "error", err)
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

	points, err := psi.LoadPoints(*pointsFile)
	if err != nil {
		logger.Error("failed to load points", "error", err)
		os.Exit(1)
	}

	c, err := client.NewClient(*serverAddr)
	if err != nil {
		logger.Error("failed to connect", "server", *serverAddr, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := psi.Options{Logger: logger}
	transport := c.Transport(*session)
	logger.Info("joining session", "session", *session, "role", role, "points", len(points), "strategy", config.Strategy)

	switch role {
	case psi.RoleSender:
		matches, err := psi.RunSender(ctx, config, points, transport, opts)
		if err != nil {
			logger.Error("protocol failed", "error", err)
			os.Exit(1)
		}
		if *discard {
			if err := c.Discard(ctx, *session); err != nil {
				logger.Warn("failed to discard session", "error", err)
			}
		}
		logger.Info("intersection computed", "matches", len(matches))
		for _, m := range matches {
			fmt.Println(m)
		}
	case psi.RoleReceiver:
		if err := psi.RunReceiver(ctx, config, points, transport, opts); err != nil {
			logger.Error("protocol failed", "error", err)
			os.Exit(1)
		}
		logger.Info("reply published")
	}
}
