package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/restorepoint/internal/app"
	"github.com/semmidev/restorepoint/internal/infrastructure/logger"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and trigger the configured schedules",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List schedules by name",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					return printJSON(a.ListSchedules())
				})
			},
		},
		&cobra.Command{
			Use:   "show <id-or-name>",
			Short: "Show one schedule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					schedule, err := a.GetSchedule(args[0])
					if err != nil {
						return err
					}
					return printJSON(schedule)
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show scheduler statistics",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					return printJSON(a.SchedulerStats())
				})
			},
		},
		&cobra.Command{
			Use:   "run <id-or-name>",
			Short: "Run a schedule's backup now",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					record, err := a.ForceRunSchedule(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(record)
				})
			},
		},
	)
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}
}

func gdriveAuthCmd() *cobra.Command {
	var clientSecret, addr string

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log, err := logger.New("info", "")
			if err != nil {
				return err
			}
			defer log.Close()

			oauth, err := app.NewGoogleOAuthService(log, clientSecret)
			if err != nil {
				return err
			}
			if err := oauth.StartAuthServer(ctx, addr); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = oauth.Shutdown(shutdownCtx)
			}()

			fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL in a browser:\n%s\n", oauth.AuthURL())

			select {
			case <-ctx.Done():
				return ctx.Err()
			case token := <-oauth.Tokens():
				return printJSON(map[string]string{"refresh_token": token.RefreshToken})
			}
		},
	}

	cmd.Flags().StringVar(&clientSecret, "client-secret", "client_secret.json", "OAuth client secret file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address for the OAuth callback")
	return cmd
}
