package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/baiirun/backlog/internal/auth"
	"github.com/baiirun/backlog/internal/config"
	"github.com/baiirun/backlog/internal/db"
	"github.com/baiirun/backlog/internal/logging"
	"github.com/baiirun/backlog/internal/tracker"
)

const flagConfig = "config"

var (
	dbPath string
	store  *db.DB
	app    *tracker.Tracker
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backlog",
		Short: "Team backlog with role-gated editing and audit history",
		Long: `A CLI for tracking epics, features, stories, tasks and bugs across team projects.
Every change is checked against the caller's role and team membership and recorded in the item's history.

Run 'backlog user bootstrap <name>' once on a new database, then 'backlog login <name>'
and export the printed token as BACKLOG_SESSION.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	flags := root.PersistentFlags()
	flags.String(flagConfig, "", "config file (default ./.backlog.yaml or ~/.backlog/config.yaml)")
	flags.String(config.KeyDB, "", "database path (default ~/.backlog/backlog.db)")
	flags.String(config.KeySession, "", "session token from 'backlog login'")
	flags.String(config.KeyLogLevel, "warn", "log level: debug, info, warn or error")
	flags.String(config.KeyLogFormat, "text", "log format: text or json")
	flags.Bool(config.KeyJSON, false, "print JSON output")

	root.AddCommand(
		newInitCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newRolesCmd(),
		newUserCmd(),
		newProjectCmd(),
		newTeamCmd(),
		newItemCmd(),
	)
	return root
}

// setup resolves config and opens the store before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	if path, _ := flags.GetString(flagConfig); path != "" {
		if err := config.LoadFile(path); err != nil {
			return err
		}
	}
	if err := config.BindFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	flagJSON = config.GetBool(config.KeyJSON)

	log, err := logging.New(config.GetString(config.KeyLogLevel), config.GetString(config.KeyLogFormat), os.Stderr)
	if err != nil {
		return err
	}

	dbPath = config.GetString(config.KeyDB)
	if dbPath == "" {
		if dbPath, err = db.DefaultPath(); err != nil {
			return err
		}
	}
	store, err = db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("%w: %w", tracker.ErrStoreUnavailable, err)
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("%w: %w", tracker.ErrStoreUnavailable, err)
	}

	app = tracker.New(store, log, config.GetDuration(config.KeySessionTTL))
	return nil
}

func closeStore() {
	if store != nil {
		_ = store.Close()
		store = nil
	}
	app = nil
}

// currentActor resolves the configured session token.
func currentActor(ctx context.Context) (auth.Actor, error) {
	return app.Authenticate(ctx, config.GetString(config.KeySession))
}

// execute runs one command line against a fresh command tree.
func execute(args []string) error {
	defer closeStore()
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

var initCmdLong = `Create the database and schema if they do not exist yet. Every other command
does this on demand; init only reports where the database lives.`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the backlog database",
		Long:  initCmdLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Initialized backlog database at %s\n", dbPath)
			return nil
		},
	}
}

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
