package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/config"
	"crowdlabel-service/internal/infra/memory"
	pgledger "crowdlabel-service/internal/infra/postgres"
	redisledger "crowdlabel-service/internal/infra/redis"
	"crowdlabel-service/internal/infra/sqlite"
	"crowdlabel-service/internal/infra/upstream"
	transport "crowdlabel-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the task assignment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url not configured")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	rule := app.ScoreRuleByName(cfg.Scoring.Rule)

	// Store selection: postgres, then redis, then sqlite, then memory.
	var ledger app.LedgerStore
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		ledger = pgledger.NewLedgerStore(pool, rule)
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ledger = redisledger.NewLedgerStore(client, rule)
	case cfg.SQLite.Path != "":
		store, err := sqlite.NewLedgerStore(cfg.SQLite.Path, rule)
		if err != nil {
			return err
		}
		defer store.Close()
		ledger = store
	default:
		ledger = memory.NewLedgerStore(rule)
	}

	timeout := config.Duration(cfg.Upstream.Timeout, 10*time.Second)
	var provider app.TaskProvider = upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, timeout)
	if ttl := config.Duration(cfg.Cache.TTL, 0); ttl > 0 {
		provider = memory.NewCandidateCache(provider, ttl)
	}

	opts := []app.Option{}
	if cfg.Profile.Path != "" {
		opts = append(opts, app.WithProfiles(memory.NewFileProfileSource(cfg.Profile.Path)))
	}
	if len(cfg.Criteria.Topics) > 0 || cfg.Criteria.MaxComplexity > 0 {
		policy := app.DefaultCriteriaPolicy()
		if len(cfg.Criteria.Topics) > 0 {
			policy.Topics = cfg.Criteria.Topics
		}
		if cfg.Criteria.MaxComplexity > 0 {
			policy.MaxComplexity = cfg.Criteria.MaxComplexity
		}
		opts = append(opts, app.WithPolicy(policy))
	}

	service := app.NewAssignmentService(ledger, provider, opts...)
	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws/leaderboard", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting crowdlabel service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
