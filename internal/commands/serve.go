package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"bizxpense/internal/amqp"
	"bizxpense/internal/cli"
	apphttp "bizxpense/internal/http"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
)

func newServeCommand(a *app) *cobra.Command {
	var withRecurring bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context(), withRecurring)
		},
	}

	cmd.Flags().BoolVar(&withRecurring, "with-recurring", false, "also run the recurring processor on RECURRING_PROCESSOR_INTERVAL")

	return cmd
}

func (a *app) runServe(ctx context.Context, withRecurring bool) error {
	logger := a.logger.WithComponent(applog.ComponentApp)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := a.newAggregator()
	if err != nil {
		return err
	}

	engine := services.NewSyncEngine(store, store, client)
	processor := a.newProcessor(store)

	// Without a broker, webhooks sync inline.
	var (
		dispatcher services.SyncDispatcher
		amqpClient *amqp.Client
	)
	if a.cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, webhooks will sync inline", applog.FieldError, err)
		} else {
			dispatcher = amqpClient
		}
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + a.cfg.Port,
		RateLimitPerMinute: a.cfg.RateLimitPerMinute,
		Logger:             a.logger,
	}, apphttp.Services{
		Store:     store,
		Sync:      engine,
		Webhooks:  services.NewWebhookReceiver(engine, dispatcher),
		Accounts:  services.NewAccountService(store, client),
		Recurring: services.NewRecurringService(store, a.cfg.Location()),
		Processor: processor,
	})

	var runner *services.RecurringRunner
	if withRecurring {
		runner = services.NewRecurringRunner(processor, services.RunnerConfig{Interval: a.cfg.RecurringInterval})
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	runCtx, done := cli.GracefulShutdown(runCtx, a.logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if runner != nil {
			if err := runner.Stop(shutdownCtx); err != nil {
				logger.Warn("Recurring runner stop", applog.FieldError, err)
			}
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close", applog.FieldError, err)
			}
		}
	})

	if runner != nil {
		if err := runner.Start(runCtx); err != nil {
			stop()
			<-done
			return err
		}
	}

	logger.Info("Starting bizxpense server",
		"port", a.cfg.Port,
		"backend", a.cfg.DataBackend,
		"amqp", dispatcher != nil,
		"recurring", withRecurring)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-done
		return fmt.Errorf("server error on port %s: %w", a.cfg.Port, err)
	}

	<-done
	logger.Info("Server stopped gracefully")
	return nil
}
