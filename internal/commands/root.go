package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bizxpense/internal/aggregator/plaid"
	"bizxpense/internal/buildinfo"
	"bizxpense/internal/cli"
	"bizxpense/internal/config"
	"bizxpense/internal/ledger"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
)

const shutdownTimeout = 30 * time.Second

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	cfg    *config.Config
	logger *applog.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "bizxpense",
		Short:   "Small business expense tracking with bank sync and recurring expenses",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.AddCommand(
		newServeCommand(a),
		newSyncCommand(a),
		newProcessRecurringCommand(a),
		newSyncWorkerCommand(a),
		newRecurringWorkerCommand(a),
		newMigrateCommand(a),
	)

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cli.SetupLogger(cfg.LogLevel)
	a.logger.Debug("Configuration loaded", "backend", cfg.DataBackend, "command", cmd.Name())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(applog.NewContext(ctx, a.logger))
	return nil
}

// openStore opens the configured ledger. Close errors are logged.
func (a *app) openStore(ctx context.Context) (ledger.Store, func(), error) {
	res, err := cli.InitStore(ctx, a.logger, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := res.Cleanup(); err != nil {
			a.logger.Error("Failed to close store", applog.FieldError, err)
		}
	}
	return res.Store, closeFn, nil
}

func (a *app) newAggregator() (*plaid.Client, error) {
	if err := a.cfg.RequirePlaid(); err != nil {
		return nil, err
	}
	return plaid.New(plaid.Config{
		ClientID:    a.cfg.PlaidClientID,
		Secret:      a.cfg.PlaidSecret,
		Environment: a.cfg.PlaidEnv,
		WebhookURL:  a.cfg.PlaidWebhookURL,
	})
}

func (a *app) newProcessor(store ledger.Store) *services.RecurringProcessor {
	return services.NewRecurringProcessor(store, store, a.cfg.Location())
}
