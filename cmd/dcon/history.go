package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/client"
	"github.com/codewiresh/dcon/internal/session"
	"github.com/codewiresh/dcon/internal/store"
)

// historyRecorder writes every command round trip to the history store.
type historyRecorder struct {
	store   store.Store
	profile string
}

func (h *historyRecorder) HandshakeDone(session.HandshakeEvent) {}

func (h *historyRecorder) CommandDone(ev session.CommandEvent) {
	err := h.store.Record(context.Background(), store.Entry{
		Profile:   h.profile,
		Director:  ev.Director,
		Command:   ev.Command,
		APILevel:  int(ev.APILevel),
		StartedAt: ev.Start,
		Duration:  ev.Duration,
		Bytes:     ev.Bytes,
		IsError:   ev.IsError,
		Error:     ev.Message,
	})
	if err != nil {
		log.Warn().Err(err).Msg("recording command history")
	}
}

var historyColumns = []string{"time", "profile", "command", "api", "took", "bytes", "result"}

// historyItems shapes entries for client.PrintTable.
func historyItems(entries []store.Entry) []any {
	items := make([]any, 0, len(entries))
	for _, e := range entries {
		result := "ok"
		if e.IsError {
			result = "error"
			if e.Error != "" {
				result += ": " + e.Error
			}
		}
		items = append(items, map[string]any{
			"time":    e.StartedAt.Local().Format(time.RFC3339),
			"profile": e.Profile,
			"command": e.Command,
			"api":     e.APILevel,
			"took":    e.Duration.Round(time.Millisecond).String(),
			"bytes":   e.Bytes,
			"result":  result,
		})
	}
	return items
}

func historyCmd(a *app) *cobra.Command {
	var (
		limit      int
		profile    string
		errorsOnly bool
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently sent commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.historyStore()
			if err != nil {
				return err
			}
			entries, err := h.Recent(cmd.Context(), store.Filter{Profile: profile, ErrorsOnly: errorsOnly, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return client.PrintJSON(cmd.OutOrStdout(), entries)
			}
			client.PrintTable(cmd.OutOrStdout(), historyColumns, historyItems(entries))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultLimit, "Number of entries")
	cmd.Flags().StringVar(&profile, "profile", "", "Only commands sent to this profile")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "Only failed commands")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := a.historyStore()
			if err != nil {
				return err
			}
			n, err := h.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete entries older than this")
	cmd.AddCommand(prune)
	return cmd
}
