package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bizxpense/internal/amqp"
	"bizxpense/internal/cli"
	applog "bizxpense/internal/log"
	"bizxpense/internal/services"
	"bizxpense/internal/worker"
)

const dialAttempts = 5

func newSyncWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-worker",
		Short: "Consume queued sync requests from AMQP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSyncWorker(cmd.Context())
		},
	}
}

func (a *app) runSyncWorker(ctx context.Context) error {
	logger := a.logger.WithComponent(applog.ComponentWorker)

	if a.cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for sync-worker")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := a.newAggregator()
	if err != nil {
		return err
	}

	amqpClient, err := amqp.DialWithRetry(ctx, a.cfg.AMQPURL, a.cfg.AMQPExchange, a.cfg.AMQPQueue, dialAttempts)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	runCtx, done := cli.GracefulShutdown(runCtx, a.logger, shutdownTimeout, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close", applog.FieldError, err)
		}
	})

	syncWorker := worker.NewSyncWorker(services.NewSyncEngine(store, store, client))
	logger.Info("Starting sync-worker", "queue", a.cfg.AMQPQueue)

	err = amqpClient.ConsumeSyncRequests(runCtx, syncWorker.HandleSyncRequest)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error("Message consumption failed", applog.FieldError, err)
	}
	stop()
	<-done
	return err
}

func newRecurringWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recurring-worker",
		Short: "Process due recurring templates on RECURRING_PROCESSOR_INTERVAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRecurringWorker(cmd.Context())
		},
	}
}

func (a *app) runRecurringWorker(ctx context.Context) error {
	logger := a.logger.WithComponent(applog.ComponentRecurring)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner := services.NewRecurringRunner(a.newProcessor(store), services.RunnerConfig{
		Interval: a.cfg.RecurringInterval,
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	runCtx, done := cli.GracefulShutdown(runCtx, a.logger, shutdownTimeout, func(shutdownCtx context.Context) {
		if err := runner.Stop(shutdownCtx); err != nil {
			logger.Warn("Recurring runner stop", applog.FieldError, err)
		}
	})

	logger.Info("Starting recurring-worker",
		"interval", a.cfg.RecurringInterval,
		"timezone", a.cfg.Timezone)

	if err := runner.Start(runCtx); err != nil {
		stop()
		<-done
		return err
	}

	<-runCtx.Done()
	<-done
	return nil
}
