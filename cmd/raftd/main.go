package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"kvstore/raft"
	"kvstore/storage"
)

// parsePeerList parses "id1=addr1,id2=addr2" into a map, the same shape
// cluster/cluster_client.go expects for its seed list.
func parsePeerList(s string) map[string]string {
	peers := make(map[string]string)
	if s == "" {
		return peers
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			log.Fatalf("invalid -peers entry %q, want id=host:port", pair)
		}
		peers[kv[0]] = kv[1]
	}
	return peers
}

func main() {
	id := flag.String("id", "", "this replica's node id")
	address := flag.String("address", "", "address to listen on, e.g. :8080")
	dataDir := flag.String("data", "./data", "directory for the durable log and state machine")
	peerList := flag.String("peers", "", "comma-separated id=address pairs for the other voting members")
	electionMin := flag.Duration("election-timeout-min", 150*time.Millisecond, "minimum election timeout")
	electionMax := flag.Duration("election-timeout-max", 300*time.Millisecond, "maximum election timeout")
	heartbeat := flag.Duration("heartbeat-interval", 75*time.Millisecond, "leader heartbeat interval")
	rpcTimeout := flag.Duration("rpc-timeout", 2*time.Second, "per-RPC client timeout")
	flag.Parse()

	if *id == "" || *address == "" {
		log.Fatal("-id and -address are required")
	}

	fileLog, err := raft.NewFileLog(*dataDir)
	if err != nil {
		log.Fatalf("failed to open raft log: %v", err)
	}
	defer fileLog.Close()

	store, err := storage.NewStore(*dataDir)
	if err != nil {
		log.Fatalf("failed to open state machine store: %v", err)
	}
	defer store.Close()

	state := raft.NewReplicaState(*id, *electionMin, *electionMax, fileLog)
	applier := raft.NewStoreApplier(store)
	logger := raft.NewLogger(*id, raft.INFO)
	transport := raft.NewGRPCTransport(*rpcTimeout)
	defer transport.Close()

	peers := parsePeerList(*peerList)
	coordinator := raft.NewCoordinator(*id, state, fileLog, transport, applier, logger, peers, *heartbeat)

	handlers := raft.NewRpcHandlers(state, fileLog, logger)
	server := raft.NewGRPCServer(handlers, logger)
	if err := server.Start(*address); err != nil {
		log.Fatalf("failed to start gRPC server on %s: %v", *address, err)
	}

	logger.Info("raftd started: id=%s address=%s peers=%d", *id, *address, len(peers))

	ctx, cancel := context.WithCancel(context.Background())
	go coordinator.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	server.Stop()
}
