package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/migrate"
)

const usage = `usage: migrate -cmd=<command> [flags]

commands:
  up        apply every pending migration
  down      roll back the latest migration
  status    list migrations and whether they are applied
  version   move to -version (YYYYMMDDHHMMSS), up or down
  create    write a new migration skeleton into -dir (requires -name)
  validate  check file names and goose annotations

-dir defaults to the embedded migrations for up/down/status/version and
to ` + migrate.DefaultDir + ` for create/validate.
`

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk")
	flag.StringVar(&opts.name, "name", "", "migration name for create")
	flag.StringVar(&opts.version, "version", "", "target version for -cmd=version")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) (err error) {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(dirOrDefault(opts.dir), opts.name)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(dirOrDefault(opts.dir)); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations ok")
		return nil
	case "up", "down", "status", "version":
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.ForApp("migrate", cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, migrate.Source(opts.dir))
	if err != nil {
		return err
	}

	var applied []migrate.Applied
	switch opts.cmd {
	case "up":
		applied, err = m.Up(ctx)
	case "down":
		applied, err = m.Down(ctx)
	case "version":
		var target int64
		if target, err = migrate.ParseVersion(opts.version); err != nil {
			return err
		}
		applied, err = m.To(ctx, target)
	case "status":
		rows, statusErr := m.Status(ctx)
		if statusErr != nil {
			return statusErr
		}
		return printStatus(out, rows)
	}

	for _, a := range applied {
		fmt.Fprintf(out, "%-4s %d %s (%s)\n", a.Direction, a.Version, a.File, a.Duration)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrate finished")
	return err
}

func printStatus(out io.Writer, rows []migrate.Status) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tAPPLIED AT\tFILE")
	for _, r := range rows {
		at := "pending"
		if r.Applied {
			at = r.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.Version, at, r.File)
	}
	return tw.Flush()
}

func dirOrDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}
