package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"fusse/internal/config"
	"fusse/internal/manifest"
	"fusse/internal/store"
	"fusse/internal/store/gormstore"
	"fusse/internal/store/sqlite"
)

const usage = `usage: fusse [serve|seed|manifest] [flags]

  serve      run the HTTP API (default)
  seed       load tables.yaml into the database and exit
  manifest   write the reservation manifest of one day to an .xlsx file
`

func main() {
	_ = godotenv.Load()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", os.Getenv("FUSSE_CONFIG_PATH"), "path to config.yaml")
	date := fs.String("date", "", "manifest date, YYYY-MM-DD (default today)")
	out := fs.String("out", ".", "manifest output directory")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, &logger)
	case "seed":
		err = seed(ctx, cfg, &logger)
	case "manifest":
		err = exportManifest(ctx, cfg, *date, *out, &logger)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("command failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// openStore returns the configured backend. sqlite is non-nil only for the
// sqlite driver, which also supports file backups.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, *sqlite.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		st, err := gormstore.Open(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil, nil
	default:
		st, err := sqlite.Open(cfg.Database.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return st, st, nil
	}
}

func seed(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	st, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tables, err := config.LoadTablesConfig(cfg.TablesConfigPath)
	if err != nil {
		return err
	}
	if err := st.SyncTables(ctx, tables.Inventory()); err != nil {
		return fmt.Errorf("sync tables: %w", err)
	}
	logger.Info().Str("tables", tables.String()).Msg("Table inventory loaded")
	return nil
}

func exportManifest(ctx context.Context, cfg *config.Config, rawDate, dir string, logger *zerolog.Logger) error {
	st, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := newApp(cfg, st, nil, logger)
	if err != nil {
		return err
	}

	loc := app.calendar.Location()
	date := app.calendar.Day(time.Now())
	if rawDate != "" {
		if date, err = time.ParseInLocation("2006-01-02", rawDate, loc); err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
	}

	reservations, err := app.manager.DayReservations(ctx, date)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, manifest.FileName(date))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := manifest.Write(f, date, reservations, loc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info().Str("file", path).Int("reservations", len(reservations)).Msg("Manifest written")
	return nil
}
