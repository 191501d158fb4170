package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/muhammadolammi/careerpivot/internal/accounts"
	"github.com/muhammadolammi/careerpivot/internal/live"
	"github.com/muhammadolammi/careerpivot/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:           "careerpivot",
	Short:         "Career Pivot AI - resume strategy and rewrite service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect or change accounts in the configured store",
}

var accountShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Print an account, creating the free trial if it does not exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccounts(cmd, func(ctx context.Context, svc *accounts.Service) (accounts.Account, error) {
			return svc.GetAccount(ctx, args[0])
		})
	},
}

var accountUpgradeCmd = &cobra.Command{
	Use:   "upgrade <email> <free|basic|premium>",
	Short: "Assign a tier to an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := accounts.ParseTier(args[1])
		if err != nil {
			return err
		}
		return withAccounts(cmd, func(ctx context.Context, svc *accounts.Service) (accounts.Account, error) {
			return svc.Upgrade(ctx, args[0], tier)
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "careerpivot %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	accountCmd.AddCommand(accountShowCmd, accountUpgradeCmd)
	rootCmd.AddCommand(serveCmd, accountCmd, versionCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("careerpivot failed")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.validate(true); err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := live.NewHub()
	publishers := []accounts.Publisher{hub}
	if cfg.RabbitMQURL != "" {
		publisher, err := newAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		defer publisher.Close()
		publishers = append(publishers, publisher)
	}

	svc, closeStore, err := openAccounts(ctx, cfg, accounts.WithPublisher(accounts.MultiPublisher(publishers...)))
	if err != nil {
		return err
	}
	defer closeStore()

	analyzer, err := NewAgentAnalyzer(cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		return err
	}

	var archive ObjectStore
	if cfg.R2.enabled() {
		archive, err = newR2Store(ctx, cfg.R2)
		if err != nil {
			return err
		}
	}

	app, err := newAppConfig(svc, hub, analyzer, archive, cfg)
	if err != nil {
		return err
	}
	return runServer(ctx, app, cfg.Port)
}

// openAccounts builds the store named by the config and the service on top.
func openAccounts(ctx context.Context, cfg Config, opts ...accounts.Option) (*accounts.Service, func(), error) {
	var (
		store accounts.Store
		err   error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		store, err = accounts.NewSQLiteStore(cfg.Store.SQLitePath)
	case "postgres":
		store, err = accounts.NewPostgresStore(cfg.Store.DBURL)
	default:
		store = accounts.NewMemoryStore()
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("account store ready")

	svc := accounts.NewService(store, opts...)
	if cfg.Store.SeedDemoAccounts {
		if err := svc.Seed(ctx, accounts.DemoAccounts(time.Now().UTC())...); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	return svc, func() { _ = store.Close() }, nil
}

func withAccounts(cmd *cobra.Command, fn func(context.Context, *accounts.Service) (accounts.Account, error)) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.validate(false); err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("memory store does not outlive this command; set STORE_DRIVER to sqlite or postgres")
	}

	svc, closeStore, err := openAccounts(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	acct, err := fn(cmd.Context(), svc)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(newAccountView(acct), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
