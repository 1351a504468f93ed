// Command driftwatch-admin provides operational tooling for a running
// driftwatch deployment: migrations, alert triage, queue inspection, and
// Redis cooldown key management.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/config"
	"github.com/driftwatch/driftwatch/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrateCommand,
		},
		"db-reset": {
			name:        "db-reset",
			description: "Drop the database schema and re-run migrations",
			run:         runDBReset,
		},
		"list-alerts": {
			name:        "list-alerts",
			description: "List alerts with optional workspace, rule, and severity filters",
			run:         runListAlerts,
		},
		"alert-stats": {
			name:        "alert-stats",
			description: "Show alert counts per severity",
			run:         runAlertStats,
		},
		"ack-alert": {
			name:        "ack-alert",
			description: "Acknowledge an alert by id",
			run:         runAckAlert,
		},
		"resolve-alert": {
			name:        "resolve-alert",
			description: "Resolve an alert by id",
			run:         runResolveAlert,
		},
		"job-stats": {
			name:        "job-stats",
			description: "Show queue depth per job type and status",
			run:         runJobStats,
		},
		"enqueue-maintenance": {
			name:        "enqueue-maintenance",
			description: "Enqueue a maintenance task out of schedule",
			run:         runEnqueueMaintenance,
		},
		"list-cooldown-keys": {
			name:        "list-cooldown-keys",
			description: "Inspect alert cooldown keys in Redis",
			run:         runListCooldownKeys,
		},
		"clear-cooldown-keys": {
			name:        "clear-cooldown-keys",
			description: "Clear alert cooldown keys from Redis",
			run:         runClearCooldownKeys,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: driftwatch-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-24s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	return opts, nil
}

func runMigrateCommand(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		migrateCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		return bootstrap.RunMigrations(migrateCtx, db, cmdCtx.Logger)
	})
}

type dbResetOptions struct {
	Yes         bool
	AllowRemote bool
	Timeout     time.Duration
}

func parseDBResetFlags(args []string) (dbResetOptions, error) {
	fs := flag.NewFlagSet("db-reset", flag.ContinueOnError)
	opts := dbResetOptions{}
	fs.BoolVar(&opts.Yes, "yes", false, "skip the confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "allow running against a non-local database host")
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}
	return opts, nil
}

func runDBReset(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBResetFlags(args)
	if err != nil {
		return err
	}

	proceed, err := guardRemoteHost(cmdCtx, opts.AllowRemote, "reset the database")
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	if !opts.Yes {
		if err := requireConfirmation("reset the database schema", cmdCtx.Config.Postgres.Host); err != nil {
			return err
		}
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		if err := resetSchema(ctx, db); err != nil {
			return err
		}
		cmdCtx.Logger.InfoContext(ctx, "database schema dropped", "database", cmdCtx.Config.Postgres.Name)

		migrateCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		return bootstrap.RunMigrations(migrateCtx, db, cmdCtx.Logger)
	})
}

func resetSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "DROP SCHEMA public CASCADE"); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA public"); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withDatabase connects, runs fn, and always closes the connection.
func withDatabase(cmdCtx *commandContext, fn func(context.Context, *sql.DB) error) error {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DatabaseURL: cmdCtx.Config.DatabaseURL,
		DBConfig:    cmdCtx.Config.Postgres,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}

	runErr := fn(cmdCtx.Ctx, db)
	if closeErr := db.Close(); closeErr != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close db: %w", closeErr))
	}
	return runErr
}

// guardRemoteHost blocks destructive commands against hosts that do not look
// local unless the caller explicitly opted in.
func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	host := cmdCtx.Config.Postgres.Host
	if !isLikelyRemoteHost(host) || allow {
		return true, nil
	}
	if err := writef(os.Stderr,
		"refusing to %s on host %q: pass -allow-remote to override\n", action, host); err != nil {
		return false, err
	}
	return false, fmt.Errorf("remote host %q requires -allow-remote", host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch h {
	case "", "localhost", "127.0.0.1", "::1", "host.docker.internal":
		return false
	}
	return !strings.HasSuffix(h, ".local")
}

func requireConfirmation(action, host string) error {
	if err := writef(os.Stdout, "About to %s on %q. Type the host name to continue: ", action, host); err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != host {
		return errors.New("confirmation did not match host; aborting")
	}
	return nil
}
