package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/codewiresh/dcon/internal/config"
	"github.com/codewiresh/dcon/internal/session"
)

func profilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "List and edit director profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(cfg.Directors) == 0 {
				fmt.Fprintf(w, "No profiles in %s\n", cfg.Path())
				return nil
			}
			for _, name := range cfg.Names() {
				p := cfg.Directors[name]
				mark := " "
				if name == cfg.Default {
					mark = "*"
				}
				port := p.Port
				if port == 0 {
					port = session.DefaultPort
				}
				fmt.Fprintf(w, "%s %-16s %s", mark, name, net.JoinHostPort(p.Host, strconv.Itoa(port)))
				if p.TLS.Enabled {
					fmt.Fprint(w, " tls")
				}
				if p.Catalog != "" {
					fmt.Fprintf(w, " catalog=%s", p.Catalog)
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}
	cmd.AddCommand(profileAddCmd(a), profileRemoveCmd(a), profileDefaultCmd(a))
	return cmd
}

func profileAddCmd(a *app) *cobra.Command {
	var (
		p          config.Profile
		useKeyring bool
		makeDef    bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace a profile",
		Example: `  dcon profiles add prod --host bareos.example.com --keyring --tls
  dcon profiles add lab --host 10.0.0.5 --console operator --api 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			name := args[0]
			profile := p
			if useKeyring {
				profile.PasswordSource = config.SourceKeyring
				profile.Password = ""
			}
			if profile.Password == "" && profile.PasswordSource == "" {
				if profile.Password, err = promptPassword("Console password: "); err != nil {
					return err
				}
			}

			cfg.Directors[name] = &profile
			if makeDef || cfg.Default == "" {
				cfg.Default = name
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if useKeyring {
				if err := storePassword(a, name); err != nil {
					return err
				}
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %q to %s\n", name, cfg.Path())
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&p.Host, "host", "", "Director host name or address")
	flags.IntVar(&p.Port, "port", 0, "Director port (default 9101)")
	flags.StringVar(&p.Console, "console", "", "Named console; empty for the default console")
	flags.StringVar(&p.Password, "password", "", "Console password (prompted when omitted)")
	flags.StringVar(&p.Catalog, "catalog", "", "Catalog to select after login")
	flags.IntVar(&p.API, "api", 0, "API level to switch to after login")
	flags.BoolVar(&p.TLS.Enabled, "tls", false, "Use TLS")
	flags.StringVar(&p.TLS.Mode, "tls-mode", "", "TLS mode: negotiated or immediate")
	flags.BoolVar(&p.TLS.Required, "tls-required", false, "Refuse directors that do not offer TLS")
	flags.BoolVar(&p.TLS.VerifyPeer, "tls-verify", false, "Verify the director certificate")
	flags.StringVar(&p.TLS.CAFile, "ca-file", "", "CA certificate file")
	flags.StringVar(&p.PAM.Username, "pam-user", "", "PAM user name")
	flags.BoolVar(&useKeyring, "keyring", false, "Store the password in the system keyring")
	flags.BoolVar(&makeDef, "default", false, "Make this the default profile")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func profileRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			name := args[0]
			p, ok := cfg.Directors[name]
			if !ok {
				return fmt.Errorf("%w: %q", config.ErrNoProfile, name)
			}
			delete(cfg.Directors, name)
			if cfg.Default == name {
				cfg.Default = ""
			}
			if p.PasswordSource == config.SourceKeyring {
				keys, err := a.keyring()
				if err != nil {
					return err
				}
				if err := keys.Delete(name); err != nil {
					return err
				}
			}
			return cfg.Save()
		},
	}
}

func profileDefaultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default <name>",
		Short: "Set the default profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if _, ok := cfg.Directors[args[0]]; !ok {
				return fmt.Errorf("%w: %q", config.ErrNoProfile, args[0])
			}
			cfg.Default = args[0]
			return cfg.Save()
		},
	}
}

// ---------------------------------------------------------------------------
// password
// ---------------------------------------------------------------------------

func passwordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage console passwords in the system keyring",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [profile]",
			Short: "Store the console password of a profile",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := a.profileArg(args)
				if err != nil {
					return err
				}
				return storePassword(a, name)
			},
		},
		&cobra.Command{
			Use:   "delete [profile]",
			Short: "Remove the stored console password of a profile",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := a.profileArg(args)
				if err != nil {
					return err
				}
				keys, err := a.keyring()
				if err != nil {
					return err
				}
				return keys.Delete(name)
			},
		},
	)
	return cmd
}

func (a *app) profileArg(args []string) (string, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return "", err
	}
	name := a.profileName
	if len(args) == 1 {
		name = args[0]
	}
	name, _, err = cfg.Resolve(name)
	return name, err
}

func storePassword(a *app, name string) error {
	password, err := promptPassword(fmt.Sprintf("Console password for %s: ", name))
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: empty password for %q", config.ErrNoPassword, name)
	}
	keys, err := a.keyring()
	if err != nil {
		return err
	}
	return keys.Set(name, password)
}
