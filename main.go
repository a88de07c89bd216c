package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"gdcli/apiclients/gooddata"
	"gdcli/app"
	"gdcli/config"
	"gdcli/db"
	"gdcli/internal/mounts"

	charmlog "github.com/charmbracelet/log"
)

// lazyApp sets up the application on the first command, once the global options
// naming the configuration file and log level have been parsed.
type lazyApp struct {
	*app.App
	store *db.DB
}

// Begin sets up the application if needed and passes the session options on.
func (l *lazyApp) Begin(ctx context.Context, g Globals) error {
	if l.App == nil {
		if err := l.setup(ctx, g); err != nil {
			return err
		}
	}
	return l.App.Begin(ctx, app.Globals{
		User:     g.User,
		Password: g.Password,
		Project:  g.Project,
	})
}

// setup loads the configuration and connects the logger, store and API client.
func (l *lazyApp) setup(ctx context.Context, g Globals) error {
	cfgPath, mustExist := g.Config, true
	if cfgPath == "" {
		cfgPath, mustExist = config.DefaultPath(), false
	}
	cfg, err := config.Load(cfgPath, mustExist)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	level := charmlog.WarnLevel
	if g.Verbose {
		level = charmlog.DebugLevel
	}
	logger := slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		Level:           level,
		ReportTimestamp: g.Verbose,
		Prefix:          "gdcli",
	}))

	sqlFS, err := mounts.NewFileMount("sql", db.SQLEmbeddedFS, cfg.SQLPath)
	if err != nil {
		return fmt.Errorf("could not mount sql fs: %w", err)
	}
	logger.Debug(sqlFS.String())
	store, err := db.NewConnection(ctx, cfg.DatabasePath, sqlFS, logger)
	if err != nil {
		return fmt.Errorf("database setup error: %w", err)
	}

	client := gooddata.NewAPIClient(ctx, gooddata.Options{
		BaseURL:            cfg.Server,
		WebDAVURL:          cfg.WebDAVServer,
		AuthorizationToken: cfg.AuthorizationToken,
		PollInterval:       cfg.PollInterval,
		Logger:             logger,
	})

	l.store = store
	l.App = app.New(app.Options{
		Client:      client,
		Store:       store,
		Out:         os.Stdout,
		Logger:      logger,
		HistorySize: cfg.HistorySize,
		User:        cfg.User,
		Project:     cfg.Project,
	})
	return nil
}

// Close closes the store if it was opened.
func (l *lazyApp) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// main is the entry point for the application.
// It builds the CLI interface and executes the command provided by the user,
// or the interactive shell if none is given.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	application := &lazyApp{}
	cmd := BuildCLI(application)

	err := cmd.Run(ctx, os.Args)
	_ = application.Close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
