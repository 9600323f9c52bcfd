// Package cli is the printflow command line: it serves the HTTP API and
// exposes the status normalizer, policy checks and migrations offline.
//
//	printflow serve [--config]
//	printflow normalize <raw> [--context]
//	printflow policy check --file
//	printflow migrate [--config]
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/config"
	"github.com/garyjia/printshop-workflow/internal/container"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
	"github.com/garyjia/printshop-workflow/pkg/database"
	"github.com/garyjia/printshop-workflow/pkg/utils"
)

// Version is set at build time with -ldflags
var Version = "dev"

// DefaultConfigPath is used when --config is not given
const DefaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configFile string
}

// BuildCLI assembles the root command and its subcommands
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "printflow",
		Short: "Print shop dossier workflow server",
		Long: `printflow tracks print dossiers through the shop's production and
delivery stages, enforces what each role may see and do, and streams live
price estimates to order forms.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", DefaultConfigPath, "config file path")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildNormalizeCommand())
	rootCmd.AddCommand(buildPolicyCommand())
	rootCmd.AddCommand(buildMigrateCommand(opts))

	return rootCmd
}

func buildServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, estimate stream and notification relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.configFile)
		},
	}
}

func serve(ctx context.Context, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting printflow",
		zap.String("version", Version),
		zap.String("address", cfg.Address()))

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	serveErr := c.Serve(ctx)

	logger.Info("Shutting down")
	if err := c.Close(); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
	}
	return serveErr
}

func buildNormalizeCommand() *cobra.Command {
	var normalizeCtx string

	cmd := &cobra.Command{
		Use:   "normalize <raw>",
		Short: "Resolve a free-form status label to its canonical status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nctx := domainwf.ParseNormalizeContext(normalizeCtx)
			status, recognized := domainwf.Resolve(args[0], nctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", status, status.Label())
			if !recognized {
				fmt.Fprintf(out, "not recognized, %s fallback applied\n", nctx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&normalizeCtx, "context", string(domainwf.ContextGeneric), "normalization context: generic, production or delivery")
	return cmd
}

func buildPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect role policies",
	}
	cmd.AddCommand(buildPolicyCheckCommand())
	return cmd
}

func buildPolicyCheckCommand() *cobra.Command {
	var (
		file        string
		printPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a role policy file against the workflow graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := domainwf.LoadPolicyFile(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, role := range domainwf.AllRoles() {
				spec := policy.Spec(role)
				edges := 0
				for _, tos := range spec.Transitions {
					edges += len(tos)
				}
				fmt.Fprintf(out, "%-18s visible=%-2d transitions=%d\n", role, len(spec.Visible), edges)
			}
			fmt.Fprintf(out, "policy %s is valid\n", file)

			if printPolicy {
				data, err := domainwf.MarshalPolicy(policy)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "---\n%s", data)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML policy file")
	cmd.Flags().BoolVar(&printPolicy, "print", false, "print the effective policy")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func buildMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.New(database.Config{
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
				BusyTimeout:     cfg.Database.BusyTimeout,
			}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).RunMigrations()
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied to %s\n", applied, cfg.Database.Path)
			return nil
		},
	}
}

// loadConfig tolerates a missing default config file so the binary runs
// on defaults and PRINTFLOW_* variables alone.
func loadConfig(path string) (*config.Config, error) {
	if path == DefaultConfigPath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", strings.TrimSpace(err.Error()))
		return 1
	}
	return 0
}
