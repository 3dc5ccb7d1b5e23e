// Package app wires configuration, storage, the origin client and the
// catalog together and dispatches the CLI subcommands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/wildgrid/camsync/internal/catalog"
	"github.com/wildgrid/camsync/internal/config"
	"github.com/wildgrid/camsync/internal/cryptox"
	"github.com/wildgrid/camsync/internal/logging"
	"github.com/wildgrid/camsync/internal/metrics"
	"github.com/wildgrid/camsync/internal/origin"
	"github.com/wildgrid/camsync/internal/store"
	"github.com/wildgrid/camsync/internal/syncer"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager store.Manager
	catalog *catalog.Service
	syncer  *syncer.Orchestrator
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(sl)

	if err := unsealSecret(cfg); err != nil {
		return nil, err
	}

	manager, err := store.NewPostgresManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := manager.RunMigrations(ctx); err != nil {
		manager.Close()
		return nil, err
	}

	s3, err := origin.NewS3Store(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3User, cfg.S3Secret)
	if err != nil {
		manager.Close()
		return nil, err
	}

	fetcher := origin.NewFetcher(s3, logger, cfg.FetchWorkers)
	m := metrics.New(prometheus.DefaultRegisterer)
	orch := syncer.NewOrchestrator(manager.Snapshots(), manager.Locks(), fetcher, cfg, logger, m)
	svc := catalog.NewService(orch, cfg, logger, cfg.AdminUsers)

	return &App{config: cfg, logger: logger, manager: manager, catalog: svc, syncer: orch}, nil
}

func (app *App) Close() error {
	return app.manager.Close()
}

func unsealSecret(cfg *config.Config) error {
	if cfg.S3SecretSealed == "" {
		return nil
	}
	fmt.Fprint(os.Stderr, "Enter passcode: ")
	passcode, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("reading passcode: %w", err)
	}
	secret, err := cryptox.OpenSecret(cfg.S3SecretSealed, passcode)
	if err != nil {
		return err
	}
	cfg.S3Secret = string(secret)
	return nil
}

// SignalContext returns a context cancelled on SIGINT/SIGTERM/SIGQUIT.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run executes one subcommand. Supported commands:
//
//	sync                       refresh collections and every bucket's uploads
//	collections -user <name>   list the user's visible collections
//	query -user <name>         run an unfiltered query over visible images
//	stats                      print species statistics
//	species                    print the shared species settings
//	locations                  print the shared location settings
//	put-config <name> <file>   write a settings file back to the origin
func (app *App) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "sync":
		return app.runSync(ctx)
	case "collections":
		return app.runCollections(ctx, args)
	case "query":
		return app.runQuery(ctx, args)
	case "stats":
		stats, err := app.catalog.GetSpeciesStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "species":
		entries, err := app.catalog.SpeciesList(ctx)
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "locations":
		entries, err := app.catalog.LocationsList(ctx)
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "put-config":
		return app.runPutConfig(ctx, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (app *App) runSync(ctx context.Context) error {
	colls, err := app.syncer.RefreshCollections(ctx)
	if err != nil {
		return err
	}

	buckets := make([]string, 0, len(colls))
	for i := range colls {
		buckets = append(buckets, colls[i].Bucket)
	}
	uploads, err := app.syncer.Uploads(ctx, buckets)
	if err != nil {
		app.logger.Warn(ctx, "some buckets failed to sync", "error", err)
	}

	app.logger.Info(ctx, "sync finished", "collections", len(colls), "buckets", len(uploads))
	return nil
}

func username(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-user" {
			return args[i+1]
		}
	}
	return ""
}

func (app *App) runCollections(ctx context.Context, args []string) error {
	user := username(args)
	if user == "" {
		return fmt.Errorf("collections requires -user <name>")
	}
	colls, err := app.catalog.GetCollections(ctx, user)
	if err != nil {
		return err
	}
	return printJSON(colls)
}

func (app *App) runQuery(ctx context.Context, args []string) error {
	user := username(args)
	if user == "" {
		return fmt.Errorf("query requires -user <name>")
	}
	res, err := app.catalog.RunQuery(ctx, user, nil, nil)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (app *App) runPutConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("put-config requires <name> <file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[1], err)
	}
	return app.syncer.SaveConfigFile(ctx, args[0], data)
}

// SealSecret is the interactive helper behind the seal-secret command: it
// reads the secret and a passcode from the terminal and prints the sealed
// blob for the config file. It needs no database or origin connection.
func SealSecret() error {
	fmt.Fprint(os.Stderr, "Enter S3 secret: ")
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, "Enter passcode: ")
	passcode, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	sealed, err := cryptox.SealSecret(secret, passcode)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
