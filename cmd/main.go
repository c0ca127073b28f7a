/**
 * @description
 * This is the main entry point for the ATM CLI. It loads configuration, opens the
 * storage backend, connects the optional message broker and rate-limit store, and
 * then runs either a single subcommand or the interactive start menu.
 *
 * Usage:
 *   atm                 interactive start menu
 *   atm register        register one account and exit
 *   atm login           log in and open the main menu
 *   atm migrate         apply database migrations and exit
 *
 * @dependencies
 * - github.com/joho/godotenv, github.com/spf13/pflag: environment and flag parsing.
 * - github.com/redis/go-redis/v9: login throttling store.
 * - internal/app, internal/cli, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/transfa/atm-cli/internal/app"
	"github.com/transfa/atm-cli/internal/cli"
	"github.com/transfa/atm-cli/internal/config"
	"github.com/transfa/atm-cli/internal/store"
	"github.com/transfa/atm-cli/pkg/rabbitmq"
)

const usage = `Usage: atm [flags] [command]

Commands:
  (none)     interactive start menu
  register   register a new account
  login      log in to an existing account
  migrate    apply database migrations

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "atm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; viper also reads it from --config-dir.
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("atm", pflag.ContinueOnError)
	configDir := flags.String("config-dir", ".", "directory containing an optional .env file")
	storage := flags.String("storage", "", "storage driver override: postgres or memory")
	migrate := flags.Bool("migrate", false, "apply database migrations before starting")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	command := ""
	if args := flags.Args(); len(args) > 0 {
		command = strings.ToLower(args[0])
	}
	switch command {
	case "", "register", "login", "migrate":
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *storage != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(*storage))
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo store.Repository
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		if command == "migrate" {
			return errors.New("migrate requires the postgres storage driver")
		}
		logger.Warn("using in-memory storage; data is lost on exit")
		repo = store.NewMemoryRepository()
	case config.StorageDriverPostgres:
		dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer dbpool.Close()
		logger.Info("database connection established")

		if command == "migrate" || *migrate {
			applied, err := store.RunMigrations(ctx, dbpool)
			if err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			logger.Info("migrations applied", "count", applied)
			if command == "migrate" {
				fmt.Printf("Applied %d migration(s).\n", applied)
				return nil
			}
		}
		repo = store.NewPostgresRepository(dbpool)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	producer := rabbitmq.NewPublisher(cfg.RabbitMQURL)
	defer producer.Close()

	var limiter app.LoginLimiter
	if redisClient := openRedis(ctx, cfg.RedisURL, logger); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisLoginRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	service := app.NewService(repo, app.NewBcryptHasher(cfg.BcryptCost), producer, app.Options{
		Limiter:          limiter,
		EventExchange:    cfg.EventExchange,
		HistoryLimit:     cfg.HistoryLimit,
		LoginMaxAttempts: cfg.LoginMaxAttempts,
		LoginWindow:      cfg.LoginWindow(),
		Logger:           logger,
	})

	atm := cli.NewATM(
		service,
		cli.NewPrompter(os.Stdin, os.Stdout),
		cli.NewFormatter(cfg.Locale, cfg.CurrencySymbol),
		os.Stdout,
		cfg.HistoryLimit,
	)

	if command == "" {
		return atm.Run(ctx)
	}
	return atm.RunCommand(ctx, command)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openRedis returns nil when Redis is not configured or unreachable; login
// throttling is then disabled.
func openRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; login throttling disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; login throttling disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
