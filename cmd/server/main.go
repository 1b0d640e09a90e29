package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iudanet/text2mesh/internal/server"
	"github.com/iudanet/text2mesh/internal/server/config"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	var (
		flags globalFlags
		addr  string
	)

	cmd := &cobra.Command{
		Use:   "text2mesh-server",
		Short: "text2mesh authentication service",
		Long: `text2mesh-server serves the account API of text2mesh:
registration with email verification, login, refresh token rotation,
password reset and user administration.

Without a subcommand the HTTP server is started.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, flags, addr)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format (text, json)")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, overrides http.addr")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, flags, addr)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, overrides http.addr")

	cmd.AddCommand(
		serveCmd,
		versionCmd(),
		migrateCmd(&flags),
		usersCmd(&flags),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "text2mesh-server\n")
			_, _ = fmt.Fprintf(out, "Version:    %s\n", Version)
			_, _ = fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
			_, _ = fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
		},
	}
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, *flags)
			if err != nil {
				return err
			}

			// миграции применяются при открытии хранилища
			store, err := server.OpenStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", slog.String("driver", cfg.Database.Driver))
			return store.Close()
		},
	}
}

func serve(cmd *cobra.Command, flags globalFlags, addr string) error {
	cfg, logger, err := setup(cmd, flags)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("text2mesh server starting",
		slog.String("version", Version),
		slog.String("commit", GitCommit),
		slog.String("database", cfg.Database.Driver),
		slog.String("ratelimit", cfg.RateLimit.Backend),
	)

	app, err := server.NewApp(ctx, cfg, logger, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to release resources", slog.Any("error", err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// setup loads the configuration and builds the process logger
func setup(cmd *cobra.Command, flags globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(flags, os.LookupEnv)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(logger)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("configuration: " + w)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cmd.Context() == nil {
		cmd.SetContext(context.Background())
	}

	return cfg, logger, nil
}

// loadConfig applies defaults, the file, the environment and flags in that order
func loadConfig(flags globalFlags, lookup config.LookupFunc) (*config.Config, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}

	return cfg, nil
}
