package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/restorepoint/internal/app"
	"github.com/semmidev/restorepoint/internal/domain"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup",
	}

	cmd.AddCommand(
		backupTypeCmd(domain.BackupTypeFull, "Dump the whole database"),
		backupTypeCmd(domain.BackupTypeIncremental, "Capture changes since a point in time"),
		backupTypeCmd(domain.BackupTypeFiles, "Archive the configured directories"),
	)
	return cmd
}

func backupTypeCmd(backupType domain.BackupType, short string) *cobra.Command {
	var (
		compress, encrypt, includeFiles bool
		since                           string
		tables, dirs, excludes          []string
	)

	cmd := &cobra.Command{
		Use:   string(backupType),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				opts := a.DefaultBackupOptions()
				if cmd.Flags().Changed("compress") {
					opts.Compress = compress
				}
				if cmd.Flags().Changed("encrypt") {
					opts.Encrypt = encrypt
				}
				opts.IncludeFiles = includeFiles
				opts.Tables = tables
				opts.Directories = dirs
				opts.ExcludePatterns = excludes

				if since != "" {
					t, err := time.Parse(time.RFC3339, since)
					if err != nil {
						return fmt.Errorf("invalid --since: %w", err)
					}
					opts.Since = t
				}

				record, err := a.CreateBackup(ctx, backupType, opts)
				if err != nil {
					return err
				}
				return printJSON(record)
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&compress, "compress", true, "gzip the artifact (default from backup.compress)")
	flags.BoolVar(&encrypt, "encrypt", false, "encrypt the artifact with age (default from backup.encrypt)")

	switch backupType {
	case domain.BackupTypeFull:
		flags.BoolVar(&includeFiles, "include-files", false, "also take a files backup")
	case domain.BackupTypeIncremental:
		flags.StringVar(&since, "since", "", "start of the change window, RFC 3339")
		flags.StringSliceVar(&tables, "tables", nil, "tables to include (default all)")
	case domain.BackupTypeFiles:
		flags.StringSliceVar(&dirs, "dirs", nil, "directories to archive (default backup.file_directories)")
		flags.StringSliceVar(&excludes, "exclude", nil, "glob patterns to skip (default backup.exclude_patterns)")
	}
	return cmd
}

func listCmd() *cobra.Command {
	var (
		backupType, status string
		limit, offset      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				records, total, err := a.ListBackups(domain.ListFilter{
					Type:   domain.BackupType(backupType),
					Status: domain.BackupStatus(status),
					Limit:  limit,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"backups": records, "total": total})
			})
		},
	}

	cmd.Flags().StringVar(&backupType, "type", "", "filter by type (full, incremental, files)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <backup-id>",
		Short: "Show one backup record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				record, err := a.GetBackup(args[0])
				if err != nil {
					return err
				}
				return printJSON(record)
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup and its artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.DeleteBackup(args[0]); err != nil {
					return err
				}
				return printJSON(map[string]string{"deleted": args[0]})
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the retention policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				deleted, err := a.Cleanup(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]int{"deleted": deleted})
			})
		},
	}
}
