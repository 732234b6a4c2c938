package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"

	apiv1 "github.com/mundrapranay/fuzzy-psi/api/v1"
	"github.com/mundrapranay/fuzzy-psi/internal/server"
	"github.com/mundrapranay/fuzzy-psi/internal/store"
)

var (
	nodeID        = flag.String("node-id", "", "Unique ID for this node")
	listenAddr    = flag.String("listen-addr", "127.0.0.1:8080", "Address to listen for Raft communication")
	advertiseAddr = flag.String("advertise-addr", "", "Raft address peers should dial (default: listen-addr)")
	grpcAddr      = flag.String("grpc-addr", "127.0.0.1:9090", "Address to listen for the Mailbox API")
	dataDir       = flag.String("data-dir", "./data", "Directory to store Raft logs and snapshots")
	bootstrap     = flag.Bool("bootstrap", false, "Bootstrap a new cluster (first node)")
	peers         = flag.String("peers", "", "Comma-separated id=raft-addr voters the bootstrap node adds once leader")
	logLevel      = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
)

type peer struct {
	id, addr string
}

func parsePeers(list string) ([]peer, error) {
	var out []peer
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, addr, ok := strings.Cut(item, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer %q (want id=host:port)", item)
		}
		out = append(out, peer{id: id, addr: addr})
	}
	return out, nil
}

func main() {
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fuzzypsi-server",
		Level: hclog.LevelFromString(*logLevel),
	})

	if *nodeID == "" {
		logger.Error("node-id is required")
		os.Exit(1)
	}
	joinPeers, err := parsePeers(*peers)
	if err != nil {
		logger.Error("bad -peers flag", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}

	s, err := store.NewStore(store.Config{
		NodeID:           *nodeID,
		ListenAddr:       *listenAddr,
		AdvertiseAddr:    *advertiseAddr,
		DataDir:          *dataDir,
		Bootstrap:        *bootstrap,
		HeartbeatTimeout: 1000 * time.Millisecond,
		ElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	defer s.Shutdown()

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", *grpcAddr, "error", err)
		os.Exit(1)
	}

	grpcSrv := grpc.NewServer()
	apiv1.RegisterMailboxServer(grpcSrv, server.NewServer(s, logger))

	logger.Info("starting gRPC server", "addr", *grpcAddr)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("failed to serve gRPC", "error", err)
			os.Exit(1)
		}
	}()

	if *bootstrap {
		logger.Info("bootstrapping cluster")
		for !s.IsLeader() {
			time.Sleep(100 * time.Millisecond)
		}
		logger.Info("became leader")

		for _, p := range joinPeers {
			if err := s.AddPeer(p.id, p.addr); err != nil {
				logger.Warn("failed to add peer", "id", p.id, "addr", p.addr, "error", err)
			}
		}
	} else if len(joinPeers) > 0 {
		logger.Warn("-peers is only honoured on the bootstrap node")
	}

	logger.Info("node ready", "id", *nodeID, "raft", s.Addr(), "grpc", *grpcAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	grpcSrv.GracefulStop()
}
