package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/restorepoint/internal/app"
	"github.com/semmidev/restorepoint/internal/domain"
)

func restoreCmd() *cobra.Command {
	var opts domain.RestoreOptions

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore one backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Restore(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DropExisting, "drop", false, "drop existing objects before a full restore")
	cmd.Flags().BoolVar(&opts.VerifyBeforeRestore, "verify", true, "check the artifact before restoring")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be restored")
	return cmd
}

func pitrCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "pitr <target-time>",
		Short: "Restore the database to a point in time (RFC 3339)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("invalid target time: %w", err)
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.PointInTimeRecovery(ctx, target, dryRun)
				if err != nil {
					return err
				}
				return printJSON(result)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the recovery plan only")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarise stored backups and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Status()
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
}

func preflightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check the backup directory, tools and free space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st := a.PreflightStatus()
				if err := printJSON(st); err != nil {
					return err
				}
				if !st.Ready {
					return fmt.Errorf("preflight failed")
				}
				return nil
			})
		},
	}
}
