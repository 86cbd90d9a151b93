// Command migrate управляет схемой PostgreSQL shipping-service:
//
//	migrate [-dsn DSN] [-steps N] [-wait 30s] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/storage/postgres"
)

const (
	envDSN = "SHIPPING_POSTGRES_DSN"

	defaultTimeout   = 30 * time.Second
	waitPollInterval = time.Second
)

var errUsage = errors.New("usage: migrate [-dsn DSN] [-steps N] [-wait DURATION] up|down|status")

type command struct {
	action  string
	dsn     string
	steps   int
	wait    time.Duration
	timeout time.Duration
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Getenv, os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout io.Writer) error {
	cmd, err := parseCommand(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.wait+cmd.timeout)
	defer cancel()

	store, err := openWithWait(ctx, cmd.dsn, cmd.wait)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = store.Close() }()

	before, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}

	switch cmd.action {
	case "up":
		err = store.MigrateUp(ctx, cmd.steps)
	case "down":
		err = store.MigrateDown(ctx, cmd.steps)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.action, err)
	}

	after, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintln(stdout, formatReport(cmd.action, before, after))
	return err
}

func parseCommand(args []string, getenv func(string) string) (command, error) {
	cmd := command{timeout: defaultTimeout}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envDSN+")")
	fs.IntVar(&cmd.steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	fs.DurationVar(&cmd.wait, "wait", 0, "keep retrying the connection for this long")
	fs.DurationVar(&cmd.timeout, "timeout", defaultTimeout, "timeout of the migration itself")
	if err := fs.Parse(args); err != nil {
		return command{}, fmt.Errorf("%w: %w", errUsage, err)
	}

	if fs.NArg() != 1 {
		return command{}, errUsage
	}
	cmd.action = strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	switch cmd.action {
	case "up", "down", "status":
	default:
		return command{}, fmt.Errorf("%w: unknown command %q", errUsage, fs.Arg(0))
	}

	if cmd.steps < 0 || cmd.wait < 0 || cmd.timeout <= 0 {
		return command{}, fmt.Errorf("%w: steps and wait must be >= 0, timeout > 0", errUsage)
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(getenv(envDSN))
	}
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("%s (or -dsn) is required", envDSN)
	}
	return cmd, nil
}

// openWithWait повторяет подключение, пока не истечёт wait. Нужен для
// запуска рядом с ещё стартующей базой.
func openWithWait(ctx context.Context, dsn string, wait time.Duration) (*postgres.Store, error) {
	deadline := time.Now().Add(wait)
	for {
		store, err := postgres.Open(ctx, dsn)
		if err == nil {
			return store, nil
		}
		if time.Now().Add(waitPollInterval).After(deadline) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(waitPollInterval):
		}
	}
}

func formatReport(action string, before, after postgres.MigrationState) string {
	if action == "status" {
		return fmt.Sprintf("status: version=%d applied=%d pending=%d", after.CurrentVersion, after.Applied, after.Pending)
	}
	return fmt.Sprintf("%s: version %d -> %d (applied=%d pending=%d)",
		action, before.CurrentVersion, after.CurrentVersion, after.Applied, after.Pending)
}
