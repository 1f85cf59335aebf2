package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexora-systems/registry-central/pkg/api"
	"github.com/nexora-systems/registry-central/pkg/archive"
	"github.com/nexora-systems/registry-central/pkg/auth"
	"github.com/nexora-systems/registry-central/pkg/blob"
	"github.com/nexora-systems/registry-central/pkg/election"
	"github.com/nexora-systems/registry-central/pkg/feedback"
	"github.com/nexora-systems/registry-central/pkg/quarantine"
	"github.com/nexora-systems/registry-central/pkg/ranking"
	"github.com/nexora-systems/registry-central/pkg/registration"
	"github.com/nexora-systems/registry-central/pkg/store"
)

func main() {
	fmt.Println(`{"level":"info","msg":"system_started","component":"registryd"}`)

	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"invalid_config","error":"%v"}`+"\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf(`{"level":"fatal","msg":"failed_to_init_store","error":"%v"}`+"\n", err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Println(`{"level":"info","msg":"store_initialized"}`)

	identity := auth.New(st, cfg.JWTSecret)
	registrar := registration.New(st, cfg.Production)
	searcher := ranking.New(st, identity, cfg.Production, cfg.SearchDebug)
	pipeline := feedback.New(st, cfg.Production)
	reviewer := quarantine.New(st, cfg.Production)

	server := api.NewServer(api.Config{
		Addr:           cfg.Addr,
		TrustProxy:     cfg.TrustProxy,
		RequestTimeout: cfg.RequestTimeout,
	}, identity, registrar, searcher, pipeline, reviewer, st, st)

	// Leadership: with Redis configured, only the lease holder runs the
	// auto-review sweep and the fraud-log archive; standalone nodes always
	// lead.
	var leader api.ElectionManagerInterface = election.Standalone{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		manager := election.NewManager(
			election.NewRedisLeaseStore(redisClient),
			fmt.Sprintf("registryd-%s", uuid.New().String()[:8]),
			"", cfg.LeaseTTL, nil, nil,
		)
		manager.Start(ctx)
		defer manager.Stop(context.Background())
		leader = manager
	}
	server.SetElectionManager(leader)

	go runAutoReview(ctx, reviewer, leader, cfg.ReviewInterval)

	var blobStore blob.BlobStore
	if cfg.ArchiveDir != "" {
		blobStore = blob.NewLocalBlobStore(cfg.ArchiveDir)
	}
	archiver := archive.NewWorker(st, blobStore, archive.Config{}, nil)
	go func() {
		// The archive worker shares the leader gate so replicas don't race
		// on the same delete window.
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Hour):
				if !leader.IsLeader() {
					continue
				}
				if _, err := archiver.Sweep(ctx); err != nil {
					fmt.Printf(`{"level":"error","msg":"fraud_archive_failed","error":"%v"}`+"\n", err)
				}
			}
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			fmt.Printf(`{"level":"fatal","msg":"server_failed","error":"%v"}`+"\n", err)
			os.Exit(1)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	fmt.Printf(`{"level":"info","msg":"shutdown_initiated","signal":"%s"}`+"\n", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stop_server","error":"%v"}`+"\n", err)
	}
	cancel()
	fmt.Println(`{"level":"info","msg":"shutdown_complete"}`)
}

// runAutoReview runs the daily status sweep on the leader node.
func runAutoReview(ctx context.Context, reviewer *quarantine.Service, leader api.ElectionManagerInterface, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !leader.IsLeader() {
				continue
			}
			summary, err := reviewer.AutoReview(ctx)
			if err != nil {
				fmt.Printf(`{"level":"error","msg":"auto_review_failed","error":"%v"}`+"\n", err)
				continue
			}
			fmt.Printf(`{"level":"info","msg":"auto_review_complete","scanned":%d,"quarantined":%d,"reactivated":%d,"banned":%d}`+"\n",
				summary.Scanned, summary.Quarantined, summary.Reactivated, summary.Banned)
		}
	}
}
