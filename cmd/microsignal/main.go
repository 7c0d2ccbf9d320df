// Command microsignal runs the market-microstructure signal engine: the
// streaming dispatch loop with the run subcommand, or one of its
// background workers with a worker subcommand.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/dispatch"
	"github.com/sawpanic/microsignal/internal/followup"
	"github.com/sawpanic/microsignal/internal/httpserver"
	"github.com/sawpanic/microsignal/internal/metrics"
	"github.com/sawpanic/microsignal/internal/net/circuit"
	"github.com/sawpanic/microsignal/internal/net/ratelimit"
	"github.com/sawpanic/microsignal/internal/orderbook"
	"github.com/sawpanic/microsignal/internal/queue"
	"github.com/sawpanic/microsignal/internal/tape"
	"github.com/sawpanic/microsignal/internal/tape/redisstore"
	"github.com/sawpanic/microsignal/internal/trajectory"
	"github.com/sawpanic/microsignal/internal/transport"
)

var (
	configPath string
	symbols    []string
	httpAddr   string
	logger     zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "microsignal",
		Short: "Real-time market-microstructure signal engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("MICROSIGNAL_LOG_FORMAT") == "json" {
				logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
			} else {
				logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
					With().Timestamp().Logger()
			}
			log.Logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config overlay")
	root.PersistentFlags().StringSliceVar(&symbols, "symbols", []string{"BTCUSDT", "ETHUSDT"}, "symbols to monitor")
	root.PersistentFlags().StringVar(&httpAddr, "http-addr", ":9090", "address for the operational HTTP server")

	root.AddCommand(newRunCmd(), newWorkerCmd())

	if err := root.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("microsignal exited with an error")
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the streaming dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
			defer redisClient.Close()

			db, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := redisstore.New(redisClient, time.Duration(cfg.Redis.BarTTLDays)*24*time.Hour)
			tp := tape.New(store)

			signalRepo := followup.NewPostgresRepo(db)
			scheduler := queue.New(redisClient)
			sink := followup.New(signalRepo, scheduler, cfg, logger)

			tr := transport.NewBinanceTransport(symbols, logger)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go tr.Run(ctx)

			loop := dispatch.New(cfg, symbols, tr, sink, tp, logger)

			reg := prometheus.NewRegistry()
			metrics.MustRegister(reg)
			mux := httpserver.New(reg, loop)
			srv := &http.Server{Addr: httpAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("http server exited")
				}
			}()

			waitForShutdownSignal(cancel)
			runErr := loop.Run(ctx)
			_ = srv.Close()
			return runErr
		},
	}
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "run a background follow-up worker",
	}
	cmd.AddCommand(newTrajectoryWorkerCmd(), newOrderbookWorkerCmd())
	return cmd
}

func newTrajectoryWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trajectory",
		Short: "consume the price-trajectory follow-up queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
			defer redisClient.Close()

			db, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := redisstore.New(redisClient, time.Duration(cfg.Redis.BarTTLDays)*24*time.Hour)
			tp := tape.New(store)
			repo := trajectory.NewPostgresRepo(db)
			worker := trajectory.New(tp, repo, logger)
			scheduler := queue.New(redisClient)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			waitForShutdownSignal(cancel)

			return pollLoop(ctx, scheduler, cfg.FollowUp.PriceQueue(), func(ctx context.Context, t queue.Task) error {
				var payload struct {
					SignalID          int64  `json:"signal_id"`
					Symbol            string `json:"symbol"`
					SignalTimestampMs int64  `json:"signal_timestamp_ms"`
				}
				if err := json.Unmarshal(t.Payload, &payload); err != nil {
					return err
				}
				return worker.Process(ctx, payload.SignalID, payload.Symbol, payload.SignalTimestampMs)
			})
		},
	}
}

func newOrderbookWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orderbook",
		Short: "consume the depth-snapshot follow-up queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
			defer redisClient.Close()

			db, err := openPostgres(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			breaker := circuit.NewBreaker(circuit.Config{
				FailureThreshold: cfg.REST.FailureThreshold,
				SuccessThreshold: cfg.REST.SuccessThreshold,
				Timeout:          cfg.REST.OpenTimeout,
				RequestTimeout:   cfg.REST.RequestTimeout,
			})
			limiter := ratelimit.NewLimiter(cfg.REST.RPS, cfg.REST.Burst)
			fetcher := orderbook.NewRESTFetcher(&http.Client{Timeout: cfg.REST.RequestTimeout}, "https://api.binance.com")
			repo := orderbook.NewPostgresRepo(db)
			worker := orderbook.New(fetcher, repo, breaker, limiter, "api.binance.com", logger)
			scheduler := queue.New(redisClient)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			waitForShutdownSignal(cancel)

			return pollLoop(ctx, scheduler, cfg.FollowUp.OrderbookQueue(), func(ctx context.Context, t queue.Task) error {
				var payload struct {
					SignalID  int64  `json:"signal_id"`
					Symbol    string `json:"symbol"`
					OffsetSec int    `json:"offset_sec"`
				}
				if err := json.Unmarshal(t.Payload, &payload); err != nil {
					return err
				}
				return worker.Process(ctx, payload.SignalID, payload.Symbol, payload.OffsetSec)
			})
		},
	}
}

// pollLoop repeatedly claims due tasks from queueName and hands them to
// handle until ctx is cancelled.
func pollLoop(ctx context.Context, scheduler *queue.Scheduler, queueName string, handle func(context.Context, queue.Task) error) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tasks, err := scheduler.PollDue(ctx, queueName, time.Now().UnixMilli(), 50)
			if err != nil {
				logger.Error().Err(err).Str("queue", queueName).Msg("poll failed")
				continue
			}
			for _, t := range tasks {
				if err := handle(ctx, t); err != nil {
					logger.Error().Err(err).Str("queue", queueName).Str("task_id", t.ID).Msg("task handler failed")
				}
			}
		}
	}
}

func openPostgres(cfg *config.Config) (*sqlx.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return sqlx.NewDb(sqlDB, "postgres"), nil
}

func waitForShutdownSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()
}
