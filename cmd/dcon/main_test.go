package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewiresh/dcon/internal/connection"
	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
	"github.com/codewiresh/dcon/internal/store"
	"github.com/codewiresh/dcon/internal/testdirector"
)

const statusText = "bareos-dir Version: 23.0.1 (31 January 2024)\nDaemon started 01-Mar-26 08:00.\n"

func director(t *testing.T) *testdirector.Director {
	t.Helper()
	return testdirector.New(testdirector.Config{
		Password: "secret",
		Handler: func(cmd string, r *testdirector.Responder) error {
			switch cmd {
			case "status director":
				if err := r.Text(statusText); err != nil {
					return err
				}
			case "run job=Backup":
				if err := r.Text("Run Backup job? "); err != nil {
					return err
				}
				if err := r.Signal(protocol.SignalYesNo); err != nil {
					return err
				}
				answer, err := r.ReadText()
				if err != nil {
					return err
				}
				if answer == "yes" {
					err = r.Text("Job queued. JobId=12\n")
				} else {
					err = r.Text("Job not run.\n")
				}
				if err != nil {
					return err
				}
			default:
				if err := r.Text(protocol.Verb(cmd) + ": is an invalid command.\n"); err != nil {
					return err
				}
				if err := r.Signal(protocol.SignalInvalidCmd); err != nil {
					return err
				}
			}
			return r.End()
		},
	})
}

func openSession(t *testing.T, d *testdirector.Director, opts session.Options) *session.Session {
	t.Helper()
	nop := zerolog.Nop()
	opts.Logger = &nop
	opts.Dial = func(_ context.Context, o connection.Options) (*connection.Conn, error) {
		return connection.New(d.Pipe(t), o.MaxPacketSize), nil
	}
	s, err := session.Open(context.Background(), session.ConnectionConfig{
		Host:            "bareos-dir",
		ConsolePassword: "secret",
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func TestShell(t *testing.T) {
	d := director(t)
	input := "status director\n\n.api 2\n.api 9\nrun job=Backup\nyes\nbogus\nquit\nversion\n"
	var out bytes.Buffer
	con := newConsole(strings.NewReader(input), &out)
	s := openSession(t, d, session.Options{Prompt: con.answer})

	require.NoError(t, runShell(context.Background(), s, con))

	assert.Equal(t, []string{"status director", ".api 2", "run job=Backup", "bogus"}, d.Commands())
	assert.Equal(t, protocol.APIJSONMeta, s.APILevel())

	got := out.String()
	assert.Contains(t, got, "*"+statusText)
	assert.Contains(t, got, "invalid api level")
	assert.Contains(t, got, "*Run Backup job? (yes/no): Job queued. JobId=12\n")
	assert.Equal(t, 1, strings.Count(got, "Run Backup job?"))
	assert.Contains(t, got, "bogus: is an invalid command.\n")
	assert.NotContains(t, got, "version")
}

func TestShellEndOfInput(t *testing.T) {
	d := director(t)
	var out bytes.Buffer
	con := newConsole(strings.NewReader("status director"), &out)
	s := openSession(t, d, session.Options{Prompt: con.answer})

	require.NoError(t, runShell(context.Background(), s, con))
	assert.Equal(t, []string{"status director"}, d.Commands())
	assert.Equal(t, "*"+statusText+"*\n", out.String())
}

func TestShellPromptWithoutAnswer(t *testing.T) {
	d := director(t)
	var out bytes.Buffer
	con := newConsole(strings.NewReader("run job=Backup\n"), &out)
	s := openSession(t, d, session.Options{Prompt: con.answer})

	err := runShell(context.Background(), s, con)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input closed")
	assert.False(t, s.IsConnected())
}

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("one\r\ntwo\nlast"))
	for _, want := range []string{"one", "two", "last"} {
		line, err := readLine(r)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := readLine(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPrintResult(t *testing.T) {
	con := newConsole(strings.NewReader(""), io.Discard)
	var out bytes.Buffer

	res := &session.CommandResult{RawText: "no newline"}
	require.NoError(t, printResult(&out, con, res, false))
	assert.Equal(t, "no newline\n", out.String())

	out.Reset()
	res = &session.CommandResult{
		APILevel: protocol.APIJSON,
		RawText:  `{"jsonrpc":"2.0","result":{"version":"23.0.1"}}`,
		Decoded:  map[string]any{"version": "23.0.1"},
	}
	require.NoError(t, printResult(&out, con, res, true))
	assert.Equal(t, "{\n  \"version\": \"23.0.1\"\n}\n", out.String())

	out.Reset()
	require.NoError(t, printResult(&out, con, &session.CommandResult{}, false))
	assert.Empty(t, out.String())
}

func TestHistoryRecorder(t *testing.T) {
	h, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	d := director(t)
	s := openSession(t, d, session.Options{Observer: &historyRecorder{store: h, profile: "prod"}})
	_, err = s.SendCommand(context.Background(), "status director")
	require.NoError(t, err)
	_, err = s.SendCommand(context.Background(), "bogus")
	require.NoError(t, err)

	entries, err := h.Recent(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bogus", entries[0].Command)
	assert.True(t, entries[0].IsError)
	assert.Equal(t, "bogus: is an invalid command.", entries[0].Error)
	assert.Equal(t, "status director", entries[1].Command)
	assert.Equal(t, "prod", entries[1].Profile)
	assert.Equal(t, "bareos-dir:9101", entries[1].Director)
	assert.Equal(t, len(statusText), entries[1].Bytes)
}

func TestHistoryItems(t *testing.T) {
	items := historyItems([]store.Entry{
		{Profile: "prod", Command: "list jobs", APILevel: 2, Duration: 1234567 * time.Microsecond, Bytes: 10},
		{Profile: "lab", Command: "bogus", IsError: true, Error: "bogus: is an invalid command."},
	})
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	assert.Equal(t, "list jobs", first["command"])
	assert.Equal(t, "1.235s", first["took"])
	assert.Equal(t, "ok", first["result"])
	assert.Equal(t, "error: bogus: is an invalid command.", items[1].(map[string]any)["result"])
}

func TestVolumeItems(t *testing.T) {
	grouped := map[string]any{
		"Incremental": []any{map[string]any{"volumename": "Inc-0002"}},
		"Full":        []any{map[string]any{"volumename": "Full-0001"}, map[string]any{"volumename": "Full-0003"}},
	}
	items := volumeItems(grouped)
	require.Len(t, items, 3)
	assert.Equal(t, "Full", items[0].(map[string]any)["pool"])
	assert.Equal(t, "Full-0003", items[1].(map[string]any)["volumename"])
	assert.Equal(t, "Incremental", items[2].(map[string]any)["pool"])

	flat := []any{map[string]any{"volumename": "Full-0001"}}
	assert.Equal(t, flat, volumeItems(flat))
	assert.Nil(t, volumeItems("unexpected"))
}
