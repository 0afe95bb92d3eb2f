package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"bizxpense/internal/services"
)

func newSyncCommand(a *app) *cobra.Command {
	var userID, itemID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull new bank transactions for a user's linked items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context(), cmd.OutOrStdout(), userID, itemID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id owning the items (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&itemID, "item", "", "sync only this linked item")

	return cmd
}

func (a *app) runSync(ctx context.Context, out io.Writer, userID, itemID string) error {
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
	summary, err := engine.SyncAll(ctx, userID, itemID)
	printSyncSummary(out, summary)
	return err
}

func printSyncSummary(out io.Writer, summary services.SyncSummary) {
	for _, it := range summary.Items {
		if it.Err != nil {
			fmt.Fprintf(out, "%s (%s): failed: %v\n", it.ItemID, it.InstitutionName, it.Err)
			continue
		}
		fmt.Fprintf(out, "%s (%s): %d added, %d modified, %d removed\n",
			it.ItemID, it.InstitutionName, it.Added, it.Modified, it.Removed)
	}
	fmt.Fprintf(out, "Synced %d items: %d added, %d modified, %d removed\n",
		len(summary.Items)-len(summary.Failed()), summary.Added, summary.Modified, summary.Removed)
}

func newProcessRecurringCommand(a *app) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "process-recurring",
		Short: "Generate expenses for due recurring templates",
		Long: "Generate expenses for every recurring template due today or earlier, " +
			"catching up missed periods. Without --user, all users are processed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProcessRecurring(cmd.Context(), cmd.OutOrStdout(), userID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "process only this user's templates")

	return cmd
}

func (a *app) runProcessRecurring(ctx context.Context, out io.Writer, userID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	processor := a.newProcessor(store)
	var res services.ProcessResult
	if userID != "" {
		res, err = processor.ProcessDue(ctx, userID, time.Now())
	} else {
		res, err = processor.ProcessAllDue(ctx, time.Now())
	}
	fmt.Fprintf(out, "Processed %d templates, generated %d expenses\n", res.Processed, res.Generated)
	return err
}
