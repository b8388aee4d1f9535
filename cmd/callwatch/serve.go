package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/callwatch/internal/api"
	"github.com/MikeSquared-Agency/callwatch/internal/processor"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll loop and the health server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			slog.Info("callwatch starting", "port", cfg.Port, "poll_interval", cfg.PollInterval)

			// Missing secrets keep the health server up but disable polling.
			problems := cfg.Validate()
			for _, p := range problems {
				slog.Warn("configuration problem", "problem", p)
			}

			var (
				a      *app
				status api.StatusProvider
			)
			if len(problems) == 0 {
				a, err = buildApp(ctx, cfg)
				if err != nil {
					slog.Error("pipeline setup failed", "error", err)
					problems = append(problems, err.Error())
				} else {
					defer a.Close()
					status = a.proc
				}
			}

			srv := api.NewServer(cfg.Port, status, problems, slog.Default())
			go func() {
				if err := srv.Start(); err != nil {
					slog.Error("HTTP server error", "error", err)
				}
			}()

			loopDone := make(chan struct{})
			if a != nil {
				go func() {
					defer close(loopDone)
					pollLoop(ctx, a.proc, cfg.PollInterval)
				}()
			} else {
				slog.Warn("poll loop disabled until configuration is fixed")
				close(loopDone)
			}

			<-ctx.Done()
			slog.Info("shutting down, waiting for the current call to finish")
			<-loopDone

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("HTTP shutdown", "error", err)
			}
			slog.Info("callwatch stopped")
			return nil
		},
	}
}

// pollLoop ticks immediately and then every interval until ctx is cancelled.
func pollLoop(ctx context.Context, proc *processor.Processor, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := proc.Tick(ctx); err != nil && !errors.Is(err, processor.ErrTickInProgress) {
			slog.Warn("tick ended early", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
