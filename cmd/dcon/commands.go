package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/client"
	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

// ---------------------------------------------------------------------------
// exec
// ---------------------------------------------------------------------------

func execCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "exec <command>...",
		Short: "Send one command and print the reply",
		Example: `  dcon exec status director
  dcon exec --json list jobs last`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.target()
			if err != nil {
				return err
			}
			if jsonOut && !t.cc.InitialAPILevel.IsJSON() {
				t.cc.InitialAPILevel = protocol.APIJSON
			}
			res, err := client.Run(cmd.Context(), t.cc, strings.Join(args, " "), t.opts)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), a.con, res, jsonOut); err != nil {
				return err
			}
			return client.CommandError(res)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the decoded JSON result")
	return cmd
}

// printResult writes a reply: decoded JSON when asked for and available,
// the raw text otherwise.
func printResult(w io.Writer, con *console, res *session.CommandResult, jsonOut bool) error {
	text := con.unseen(res.RawText)
	if jsonOut && res.Decoded != nil {
		return client.PrintJSON(w, res.Decoded)
	}
	if text == "" {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(w, text)
	return err
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the director's name and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Disconnect()

			info := s.Director()
			fmt.Fprintf(cmd.OutOrStdout(), "Director: %s\nVersion:  %s\nTLS:      %t\n", info.Director, info.Version, s.Config().UseTLS)
			res, err := s.SendCommand(cmd.Context(), client.DirectorVersion())
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), a.con, res, false); err != nil {
				return err
			}
			return client.CommandError(res)
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <client>",
		Short: "Query a file daemon through the director",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.target()
			if err != nil {
				return err
			}
			res, err := client.Run(cmd.Context(), t.cc, client.StatusClient(args[0]), t.opts)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), a.con, res, false); err != nil {
				return err
			}
			return client.CommandError(res)
		},
	}
}

// ---------------------------------------------------------------------------
// list commands
// ---------------------------------------------------------------------------

// dialJSON opens a session that answers in JSON, raising the profile's
// API level if it asks for text.
func (a *app) dialJSON(ctx context.Context) (*session.Session, error) {
	t, err := a.target()
	if err != nil {
		return nil, err
	}
	if !t.cc.InitialAPILevel.IsJSON() {
		t.cc.InitialAPILevel = protocol.APIJSONMeta
	}
	return client.Dial(ctx, t.cc, t.opts)
}

// listing fetches every item of a list command and prints it.
func (a *app) listing(cmd *cobra.Command, command, key string, columns []string, pageSize int, jsonOut bool) error {
	s, err := a.dialJSON(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Disconnect()

	items, err := client.FetchAll(cmd.Context(), s, command, key, pageSize)
	if err != nil {
		return err
	}
	if jsonOut {
		return client.PrintJSON(cmd.OutOrStdout(), items)
	}
	client.PrintTable(cmd.OutOrStdout(), columns, items)
	return nil
}

func listCmd(a *app, use, short string, build func() string, key string, columns []string) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listing(cmd, build(), key, columns, client.DefaultPageSize, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

var jobColumns = []string{"jobid", "name", "client", "type", "level", "jobstatus", "starttime", "jobfiles", "jobbytes"}

func jobsCmd(a *app) *cobra.Command {
	var (
		f        client.JobFilter
		pageSize int
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs from the catalog",
		Example: `  dcon jobs --client web1-fd --days 7
  dcon jobs --status f --last`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listing(cmd, client.ListJobs(f), client.KeyJobs, jobColumns, pageSize, jsonOut)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.Client, "client", "", "Only jobs of this client")
	flags.StringVar(&f.Job, "job", "", "Only jobs with this name")
	flags.StringVar(&f.Pool, "pool", "", "Only jobs writing to this pool")
	flags.StringVar(&f.Status, "status", "", "Only jobs with this status letter (T, f, E, ...)")
	flags.StringVar(&f.Level, "level", "", "Only jobs of this level (F, I, D)")
	flags.IntVar(&f.Days, "days", 0, "Only jobs started in the last N days")
	flags.IntVar(&f.Hours, "hours", 0, "Only jobs started in the last N hours")
	flags.BoolVar(&f.Last, "last", false, "Only the most recent run of each job")
	flags.IntVar(&pageSize, "page-size", client.DefaultPageSize, "Rows per page when the result must be paged")
	flags.BoolVar(&jsonOut, "json", false, "Print JSON")

	cmd.AddCommand(jobLogCmd(a))
	return cmd
}

func jobLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log <jobid>",
		Short: "Print the log of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			s, err := a.dialJSON(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Disconnect()

			items, err := client.FetchAll(cmd.Context(), s, client.JobLog(id), client.KeyJobLog, client.DefaultPageSize)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, item := range items {
				obj, _ := item.(map[string]any)
				line, _ := obj["logtext"].(string)
				fmt.Fprint(w, line)
				if !strings.HasSuffix(line, "\n") {
					fmt.Fprintln(w)
				}
			}
			return nil
		},
	}
}

var volumeColumns = []string{"mediaid", "volumename", "volstatus", "pool", "volbytes", "lastwritten", "mediatype"}

func volumesCmd(a *app) *cobra.Command {
	var (
		pool    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "List volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pool != "" {
				return a.listing(cmd, client.ListVolumes(pool), client.KeyVolumes, volumeColumns, client.DefaultPageSize, jsonOut)
			}

			s, err := a.dialJSON(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Disconnect()

			res, err := s.SendCommand(cmd.Context(), client.ListVolumes(""))
			if err != nil {
				return err
			}
			if err := client.CommandError(res); err != nil {
				return err
			}
			v, err := res.Decode(client.KeyVolumes)
			if err != nil {
				return err
			}
			items := volumeItems(v)
			if jsonOut {
				return client.PrintJSON(cmd.OutOrStdout(), items)
			}
			client.PrintTable(cmd.OutOrStdout(), volumeColumns, items)
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "Only volumes of this pool")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

// volumeItems flattens "list volumes", which groups volumes by pool name
// when no pool is given.
func volumeItems(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case map[string]any:
		pools := make([]string, 0, len(v))
		for name := range v {
			pools = append(pools, name)
		}
		sort.Strings(pools)
		var items []any
		for _, name := range pools {
			list, _ := v[name].([]any)
			for _, item := range list {
				if obj, ok := item.(map[string]any); ok {
					if _, has := obj["pool"]; !has {
						obj["pool"] = name
					}
				}
				items = append(items, item)
			}
		}
		return items
	}
	return nil
}

func filesCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "files <jobid>[,<jobid>...] [path]",
		Short: "Browse the files backed up by jobs",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int
			for _, part := range strings.Split(args[0], ",") {
				id, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid job id %q", part)
				}
				ids = append(ids, id)
			}
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}
			if !strings.HasSuffix(path, "/") {
				path += "/"
			}

			s, err := a.dialJSON(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Disconnect()

			ctx := cmd.Context()
			res, err := s.SendCommand(ctx, client.BvfsUpdate(ids...))
			if err != nil {
				return err
			}
			if err := client.CommandError(res); err != nil {
				return err
			}
			dirs, err := client.FetchAll(ctx, s, client.BvfsLsDirs(path, ids...), client.KeyDirectories, client.DefaultPageSize)
			if err != nil {
				return err
			}
			files, err := client.FetchAll(ctx, s, client.BvfsLsFiles(path, ids...), client.KeyFiles, client.DefaultPageSize)
			if err != nil {
				return err
			}
			items := append(dirs, files...)
			if jsonOut {
				return client.PrintJSON(cmd.OutOrStdout(), items)
			}
			client.PrintTable(cmd.OutOrStdout(), []string{"type", "name", "jobid", "fileid"}, items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}
