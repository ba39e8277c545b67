package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/client"
	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive console session",
		Long: `Open a console session and send each line typed to the director.

".api 0|1|2" switches the output format, "quit" or end of input leaves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Disconnect()

			info := s.Director()
			fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s %s\n", info.Director, info.Version)
			return runShell(cmd.Context(), s, a.con)
		},
	}
}

// runShell reads commands from con until end of input or quit. It returns
// when the session breaks; a director error only prints.
func runShell(ctx context.Context, s *session.Session, con *console) error {
	for {
		fmt.Fprint(con.out, "*")
		line, err := readLine(con.in)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(con.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return nil
		case protocol.Verb(line) == ".api":
			if err := setLevel(ctx, s, line); err != nil {
				if !s.IsConnected() {
					return err
				}
				fmt.Fprintln(con.out, client.Describe(err))
			}
			continue
		}

		res, err := s.SendCommand(ctx, line)
		if err != nil {
			return err
		}
		if err := printResult(con.out, con, res, false); err != nil {
			return err
		}
	}
}

func setLevel(ctx context.Context, s *session.Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("%w: usage: .api 0|1|2", session.ErrInvalidAPILevel)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("%w: %q", session.ErrInvalidAPILevel, fields[1])
	}
	return s.SetAPIMode(ctx, protocol.APILevel(n))
}
