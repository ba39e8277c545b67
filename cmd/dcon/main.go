package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/client"
	"github.com/codewiresh/dcon/internal/config"
	"github.com/codewiresh/dcon/internal/logging"
	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/secret"
	"github.com/codewiresh/dcon/internal/session"
	"github.com/codewiresh/dcon/internal/store"
)

// historyRetention bounds how long command history is kept.
const historyRetention = 90 * 24 * time.Hour

func main() {
	a := &app{con: newConsole(stdin, os.Stdout)}
	rootCmd := &cobra.Command{
		Use:           "dcon",
		Short:         "Console for Bareos and Bacula directors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(os.Stderr, a.logLevel)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default $DCON_CONFIG or <user config dir>/dcon/dcon.toml)")
	flags.StringVarP(&a.profileName, "director", "d", "", "Director profile to use (default $DCON_DIRECTOR or the configured default)")
	flags.IntVar(&a.apiLevel, "api", -1, "API level: 0 text, 1 JSON, 2 JSON with metadata (default from profile)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringVar(&a.historyPath, "history-db", "", "Command history database (default history.db next to the config file)")

	rootCmd.AddCommand(
		execCmd(a),
		shellCmd(a),
		versionCmd(a),
		statusCmd(a),
		jobsCmd(a),
		listCmd(a, "clients", "List file daemons", client.ListClients, client.KeyClients,
			[]string{"clientid", "name", "uname", "autoprune", "fileretention", "jobretention"}),
		listCmd(a, "pools", "List pools", client.ListPools, client.KeyPools,
			[]string{"poolid", "name", "numvols", "maxvols", "pooltype", "labelformat"}),
		listCmd(a, "storages", "List storage daemons", client.ListStorages, client.KeyStorages,
			[]string{"storageid", "name", "autochanger"}),
		volumesCmd(a),
		filesCmd(a),
		historyCmd(a),
		profilesCmd(a),
		passwordCmd(a),
		watchCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "[dcon] "+client.Describe(err))
		os.Exit(1)
	}
}

// app holds global flags and the resources commands share.
type app struct {
	configPath  string
	profileName string
	apiLevel    int
	logLevel    string
	historyPath string
	noHistory   bool

	con      *console
	cfg      *config.Config
	keys     *secret.Store
	history  store.Store
	observer session.Observer
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) keyring() (*secret.Store, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	keys, err := secret.Open(filepath.Dir(cfg.Path()), promptPassword)
	if err != nil {
		return nil, err
	}
	a.keys = keys
	return keys, nil
}

// target is a resolved profile, ready to dial.
type target struct {
	name string
	cc   session.ConnectionConfig
	opts client.Options
}

func (a *app) target() (*target, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	name, p, err := cfg.Resolve(a.profileName)
	if err != nil {
		return nil, err
	}

	var keys config.PasswordGetter
	if p.PasswordSource == config.SourceKeyring && os.Getenv(config.EnvPassword) == "" {
		ring, err := a.keyring()
		if err != nil {
			return nil, err
		}
		keys = ring
	}
	cc, err := p.ConnectionConfig(name, keys)
	if err != nil {
		return nil, err
	}
	if a.apiLevel >= 0 {
		cc.InitialAPILevel = protocol.APILevel(a.apiLevel)
	}
	if cc.PAMUsername != "" && cc.PAMPassword == "" {
		if cc.PAMPassword, err = promptPassword(fmt.Sprintf("PAM password for %s: ", cc.PAMUsername)); err != nil {
			return nil, err
		}
	}

	opts := client.Options{Session: p.SessionOptions()}
	opts.Session.Prompt = a.con.answer
	opts.Session.Observer = session.Observers(a.observer, a.recorder(name))
	return &target{name: name, cc: cc, opts: opts}, nil
}

// dial opens a session to the selected profile.
func (a *app) dial(ctx context.Context) (*session.Session, error) {
	t, err := a.target()
	if err != nil {
		return nil, err
	}
	s, err := client.Dial(ctx, t.cc, t.opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("profile", t.name).Str("director", s.Director().Director).Msg("connected")
	return s, nil
}

// historyStore opens the history database lazily. History is best effort:
// a database that cannot be opened only costs a warning.
func (a *app) historyStore() (store.Store, error) {
	if a.history != nil {
		return a.history, nil
	}
	path := a.historyPath
	if path == "" {
		cfg, err := a.loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.HistoryDB
		if path == "" {
			path = filepath.Join(filepath.Dir(cfg.Path()), "history.db")
		}
	}
	s, err := store.NewSQLiteStore(path, historyRetention)
	if err != nil {
		return nil, err
	}
	a.history = s
	return s, nil
}

func (a *app) recorder(profile string) session.Observer {
	if a.noHistory {
		return nil
	}
	h, err := a.historyStore()
	if err != nil {
		log.Warn().Err(err).Msg("command history disabled")
		return nil
	}
	return &historyRecorder{store: h, profile: profile}
}

func (a *app) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("closing history")
		}
		a.history = nil
	}
}
