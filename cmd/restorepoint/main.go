package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/semmidev/restorepoint/internal/app"
	"github.com/semmidev/restorepoint/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "restorepoint",
	Short: "Database and file backups with verified restore",
	Long: `restorepoint takes full, incremental and files backups of a
PostgreSQL, MySQL or MongoDB database, replicates them to remote targets
and restores them, including point-in-time recovery.`,
	SilenceUsage: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")

	rootCmd.AddCommand(
		backupCmd(),
		listCmd(),
		showCmd(),
		deleteCmd(),
		restoreCmd(),
		pitrCmd(),
		cleanupCmd(),
		statusCmd(),
		preflightCmd(),
		scheduleCmd(),
		runCmd(),
		gdriveAuthCmd(),
	)
}

// withApp loads the config, wires the application and shuts it down once fn
// returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if !config.Exists(configPath) {
		fmt.Fprintf(os.Stderr, "⚠️ %s not found, using defaults and environment\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return fn(cmd.Context(), application)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
