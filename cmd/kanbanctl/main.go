package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/CrowderSoup/kanban-studio/apiclient"
	"github.com/CrowderSoup/kanban-studio/config"
	"github.com/CrowderSoup/kanban-studio/kanban"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&app{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kanbanctl",
		Short:         "Kanban Studio - manage your board from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "kanbanctl.yaml", "Config file")
	rootCmd.PersistentFlags().StringVarP(&a.serverURL, "server", "s", "", "Server URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose logging")

	// Add subcommands
	rootCmd.AddCommand(registerCmd(a))
	rootCmd.AddCommand(loginCmd(a))
	rootCmd.AddCommand(logoutCmd(a))
	rootCmd.AddCommand(boardCmd(a))
	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(moveCmd(a))
	rootCmd.AddCommand(rmCmd(a))
	rootCmd.AddCommand(renameCmd(a))
	rootCmd.AddCommand(chatCmd(a))
	rootCmd.AddCommand(watchCmd(a))

	return rootCmd
}

// app is the state shared by every command.
type app struct {
	configPath string
	serverURL  string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	client *apiclient.Client
}

func (a *app) setup() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.Client.BaseURL = a.serverURL
	}
	a.cfg = cfg

	logger, err := newLogger(a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger

	session, err := apiclient.LoadSession(cfg.Client.SessionFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Ignoring unreadable session file", zap.String("path", cfg.Client.SessionFile), zap.Error(err))
	}

	a.client, err = apiclient.New(cfg.Client.BaseURL, session,
		apiclient.WithTimeout(cfg.Client.Timeout),
		apiclient.WithLogger(logger),
	)
	return err
}

// newLogger logs to stderr so command output stays clean.
func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func (a *app) requireSession() error {
	if !a.client.Session().Valid() {
		return fmt.Errorf("%w: run kanbanctl login first", apiclient.ErrNoSession)
	}
	return nil
}

// openStore loads the signed-in user's board into a fresh store.
func (a *app) openStore(ctx context.Context) (*kanban.Store, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}

	syncer := kanban.NewSyncer(kanban.RetryPolicy{
		MaxAttempts:     a.cfg.Client.Sync.MaxAttempts,
		InitialInterval: a.cfg.Client.Sync.InitialInterval,
		MaxInterval:     a.cfg.Client.Sync.MaxInterval,
	}, a.logger)
	store := kanban.NewStore(a.client, syncer, a.logger)

	if !store.Load(ctx) {
		fmt.Fprintln(os.Stderr, "Warning: could not load your board; showing the default board (changes stay local)")
	}
	return store, nil
}

// finish waits for background persistence and reports what did not make it
// to the server.
func finish(store *kanban.Store) error {
	store.Wait()

	unsynced := store.Unsynced()
	if len(unsynced) == 0 {
		return nil
	}
	for _, id := range unsynced {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", id, store.Status(id))
	}
	return fmt.Errorf("%d change(s) were not saved to the server", len(unsynced))
}
