// Command adminctl drives the admin sync layer from a terminal, either
// against an admin-sync service or against the local fallback bus.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/localbus"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/remote"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/workspace"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app carries resolved settings for one invocation.
type app struct {
	configPath string
	serviceURL string
	token      string
	actor      string
	local      string
	debug      bool
	noColor    bool

	prof *profile
	log  zerolog.Logger
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "adminctl",
		Short:         "Manage shared admin tasks, notes and messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Profile file (default $XDG_CONFIG_HOME/adminctl.yml)")
	pf.StringVar(&a.serviceURL, "service-url", "", "Base URL of the admin-sync service")
	pf.StringVar(&a.token, "token", "", "Bearer token for the service")
	pf.StringVar(&a.actor, "actor", "", "Actor id (dev mode and local bus)")
	pf.StringVar(&a.local, "local", "", "Use the local fallback bus (--local=PATH, default ~/.admin-sync/local.db)")
	pf.Lookup("local").NoOptDefVal = "default"
	pf.BoolVarP(&a.debug, "debug", "d", false, "Enable verbose debug output")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newTasksCmd(a))
	root.AddCommand(newNotesCmd(a))
	root.AddCommand(newMessagesCmd(a))
	root.AddCommand(newFeedCmd(a))
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newTokenCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.WarnLevel
	if a.debug {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    a.noColor,
	}).Level(level).With().Timestamp().Logger()

	if a.noColor {
		color.NoColor = true
	}

	p, err := loadProfile(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("service-url") {
		p.ServiceURL = a.serviceURL
	}
	if flags.Changed("token") {
		p.Token = a.token
	}
	if flags.Changed("actor") {
		p.Actor = a.actor
	}
	if flags.Changed("local") {
		p.Local = a.local
	}
	a.prof = p
	a.log.Debug().
		Str("service_url", p.ServiceURL).
		Str("local", p.Local).
		Bool("token_present", p.Token != "").
		Msg("profile resolved")
	return nil
}

// connect builds the store and identity named by the profile.
func (a *app) connect(ctx context.Context, opts ...remote.Option) (store.Store, auth.Authenticator, error) {
	p := a.prof
	if p.Local != "" {
		return a.connectLocal(ctx)
	}

	actor := p.Actor
	if p.Token != "" && actor == "" {
		sub, err := auth.Subject(p.Token)
		if err != nil {
			return nil, nil, err
		}
		actor = sub
	}
	if actor == "" {
		return nil, nil, fmt.Errorf("no identity: set --token or --actor")
	}

	ropts := []remote.Option{remote.WithTimeout(p.Timeout), remote.WithLogger(a.log)}
	if p.Token != "" {
		ropts = append(ropts, remote.WithToken(p.Token))
	} else {
		ropts = append(ropts, remote.WithActor(actor))
	}
	st, err := remote.New(p.ServiceURL, append(ropts, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return st, auth.Static(actor), nil
}

func (a *app) connectLocal(ctx context.Context) (store.Store, auth.Authenticator, error) {
	path := a.prof.Local
	if path == "default" {
		var err error
		if path, err = localbus.DBPath(); err != nil {
			return nil, nil, err
		}
	}
	actor := a.prof.Actor
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor == "" {
		actor = "local-admin"
	}

	storage, err := localbus.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return &localStore{Bus: localbus.New(storage, localbus.WithLogger(a.log)), storage: storage}, auth.Static(actor), nil
}

// localStore closes the backing file along with the bus.
type localStore struct {
	*localbus.Bus
	storage *localbus.SQLiteStorage
}

func (s *localStore) Close() error {
	_ = s.Bus.Close()
	return s.storage.Close()
}

// session is an open workspace plus the store it owns.
type session struct {
	*workspace.Workspace
	st store.Store
}

func (s *session) Close() error {
	err := s.Workspace.Close()
	if cerr := s.st.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) open(ctx context.Context, opts ...workspace.Option) (*session, error) {
	st, who, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	base := []workspace.Option{workspace.WithLogger(a.log), workspace.WithOpTimeout(a.prof.Timeout)}
	ws, err := workspace.Open(ctx, st, who, append(base, opts...)...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &session{Workspace: ws, st: st}, nil
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
