package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/voicecoach-backend/internal/app"
	"github.com/yungbote/voicecoach-backend/internal/platform/jwtauth"
	"github.com/yungbote/voicecoach-backend/internal/platform/logger"
)

func main() {
	root := &cobra.Command{
		Use:   "voicecoach",
		Short: "Voice coach practice backend",
	}
	root.AddCommand(serveCmd(), workerCmd(), migrateCmd(), tokenCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (with an embedded job worker unless --no-worker)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			runCtx, err := a.Start(ctx, !noWorker)
			if err != nil {
				return err
			}
			return a.Serve(runCtx)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "leave queued jobs to a separate worker process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the job worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			runCtx, err := a.Start(ctx, true)
			if err != nil {
				return err
			}
			a.Log.Info("Worker running")
			<-runCtx.Done()
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			log, err := logger.New(app.LoadConfig(nil).LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()
			return app.Migrate(log)
		},
	}
}

// tokenCmd mints an access token for local testing.
func tokenCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig(nil)
			uid := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				uid = parsed
			}
			token, err := jwtauth.NewVerifier(cfg.JWTSecretKey, cfg.AccessTokenTTL).Issue(uid)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id=%s\n%s\n", uid, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to embed (random when empty)")
	return cmd
}
