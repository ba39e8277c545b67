package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/client"
	"github.com/codewiresh/dcon/internal/metrics"
)

func watchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		listen   string
		command  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Probe the director periodically and export Prometheus metrics",
		Example: `  dcon watch --listen :9625 --interval 30s
  dcon watch --command "status scheduler"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			ctx := cmd.Context()
			m := metrics.New()
			a.observer = m
			a.noHistory = true

			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			log.Info().Str("listen", listen).Dur("interval", interval).Msg("serving metrics")

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				a.probe(ctx, m, command)
				select {
				case <-ctx.Done():
					return nil
				case err := <-errCh:
					return fmt.Errorf("metrics listener: %w", err)
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Time between probes")
	cmd.Flags().StringVar(&listen, "listen", ":9625", "Address for the /metrics endpoint")
	cmd.Flags().StringVar(&command, "command", client.DirectorVersion(), "Command sent on each probe")
	return cmd
}

// probe logs in, sends command and records whether the director answered.
func (a *app) probe(ctx context.Context, m *metrics.Collector, command string) {
	t, err := a.target()
	if err != nil {
		log.Error().Err(err).Msg("probe")
		return
	}
	t.opts.Session.Prompt = nil // nobody is there to answer
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := client.Run(ctx, t.cc, command, t.opts)
	if err == nil {
		err = client.CommandError(res)
	}
	m.SetUp(t.cc.Address(), err == nil)
	if err != nil {
		log.Warn().Err(err).Str("profile", t.name).Msg("director probe failed")
		return
	}
	log.Debug().Str("profile", t.name).Int("bytes", len(res.RawText)).Msg("director probe ok")
}
