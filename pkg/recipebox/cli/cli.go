// Package cli implements the recipebox command line.
//
// Every command reads the optional YAML config file first; flags and their
// RECIPEBOX_* environment variables then override individual settings.
//
//	recipebox serve --config recipebox.yaml
//	recipebox migrate --database-dsn /data/recipebox.db
//	recipebox wait-for-db
//	recipebox create-superuser --email admin@example.com --password secret
//	recipebox sweep-media --grace 1h
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/config"
	"github.com/mikepea/recipebox/pkg/recipebox/database"
	"github.com/mikepea/recipebox/pkg/recipebox/images"
	"github.com/mikepea/recipebox/pkg/recipebox/logging"
	"github.com/mikepea/recipebox/pkg/recipebox/maintenance"
	"github.com/mikepea/recipebox/pkg/recipebox/server"
)

const name = "recipebox"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

// Execute runs the command line and exits non-zero on failure.
// SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewCommand returns the root command with all subcommands attached.
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:                  name,
		Usage:                 "Recipe API server",
		Version:               fmt.Sprintf("%s (%s)", version, commit),
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("RECIPEBOX_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "database-dsn",
				Usage:   "SQLite database file or DSN",
				Sources: cli.EnvVars("RECIPEBOX_DATABASE_DSN"),
			},
			&cli.StringFlag{
				Name:    "media-root",
				Usage:   "Directory uploaded images are stored in",
				Sources: cli.EnvVars("RECIPEBOX_MEDIA_ROOT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("RECIPEBOX_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (console, json)",
				Sources: cli.EnvVars("RECIPEBOX_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			waitForDBCmd(),
			createSuperuserCmd(),
			sweepMediaCmd(),
		},
	}
}

// loadConfig reads the config file and applies the flags that were given.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"database-dsn": &cfg.Database.DSN,
		"media-root":   &cfg.Media.Root,
		"log-level":    &cfg.Log.Level,
		"log-format":   &cfg.Log.Format,
		"addr":         &cfg.Server.Addr,
		"jwt-secret":   &cfg.Auth.JWTSecret,
		"media-url":    &cfg.Media.URLPrefix,
	}
	for flag, dst := range overrides {
		if v := cmd.String(flag); v != "" {
			*dst = v
		}
	}
	if cmd.Bool("allow-insecure-secret") {
		cfg.Auth.AllowInsecureSecret = true
	}
	if proxies := cmd.StringSlice("trusted-proxies"); len(proxies) > 0 {
		cfg.Server.TrustedProxies = proxies
	}
	if d := cmd.Duration("token-ttl"); d > 0 {
		cfg.Auth.TokenTTL = d
	}
	if d := cmd.Duration("grace"); d > 0 {
		cfg.Media.SweepGrace = d
	}
	if n := cmd.Int("attempts"); n > 0 {
		cfg.Database.WaitAttempts = n
	}
	if d := cmd.Duration("delay"); d > 0 {
		cfg.Database.WaitDelay = d
	}
	return cfg, nil
}

// setup loads config, installs the global logger and opens the database.
func setup(cmd *cli.Command) (*config.Config, zerolog.Logger, *gorm.DB, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	log := newLogger(cfg)

	db, err := database.Open(cfg.Database.DSN, log)
	if err != nil {
		return nil, log, nil, err
	}
	return cfg, log, db, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr).
		With().Str("service", name).Logger()
	logging.SetGlobal(log)
	return log
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Migrate the database and serve the HTTP API",
		Description: `Runs pending migrations, then serves the API until interrupted.
Background jobs sweep unreferenced images and prune idle rate limiter state.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address",
				Sources: cli.EnvVars("RECIPEBOX_ADDR"),
			},
			&cli.StringFlag{
				Name:    "jwt-secret",
				Usage:   "Secret used to sign login tokens",
				Sources: cli.EnvVars("RECIPEBOX_JWT_SECRET"),
			},
			&cli.DurationFlag{
				Name:    "token-ttl",
				Usage:   "Lifetime of login tokens",
				Sources: cli.EnvVars("RECIPEBOX_TOKEN_TTL"),
			},
			&cli.StringFlag{
				Name:    "media-url",
				Usage:   "URL prefix uploaded images are served under",
				Sources: cli.EnvVars("RECIPEBOX_MEDIA_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "trusted-proxies",
				Usage:   "Proxy addresses or CIDRs whose X-Forwarded-For header is trusted",
				Sources: cli.EnvVars("RECIPEBOX_TRUSTED_PROXIES"),
			},
			&cli.BoolFlag{
				Name:    "allow-insecure-secret",
				Usage:   "Allow the built-in development JWT secret",
				Sources: cli.EnvVars("RECIPEBOX_ALLOW_INSECURE_SECRET"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log := newLogger(cfg)

			db, err := database.Open(cfg.Database.DSN, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")

			srv, err := server.New(cfg, db, log)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, log, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
			return nil
		},
	}
}

func waitForDBCmd() *cli.Command {
	return &cli.Command{
		Name:  "wait-for-db",
		Usage: "Block until the database answers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "Give up after this many attempts",
			},
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "Pause between attempts",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			log.Info().Msg("Waiting for database...")

			db, err := database.WaitFor(ctx, cfg.Database.DSN, log, cfg.Database.WaitAttempts, cfg.Database.WaitDelay)
			if err != nil {
				return err
			}
			return database.Close(db)
		},
	}
}

func createSuperuserCmd() *cli.Command {
	return &cli.Command{
		Name:  "create-superuser",
		Usage: "Create a staff account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Usage:    "Login email",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Usage:    "Login password",
				Sources:  cli.EnvVars("RECIPEBOX_SUPERUSER_PASSWORD"),
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name",
				Value: "Admin",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, log, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			user, err := auth.CreateUser(ctx, db, auth.NewUser{
				Email:    cmd.String("email"),
				Password: cmd.String("password"),
				Name:     cmd.String("name"),
				IsStaff:  true,
			})
			if err != nil {
				return fmt.Errorf("creating superuser: %w", err)
			}
			log.Info().Uint("user_id", user.ID).Str("email", user.Email).Msg("Created superuser")
			fmt.Fprintf(cmd.Root().Writer, "Superuser %s created\n", user.Email)
			return nil
		},
	}
}

func sweepMediaCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep-media",
		Usage: "Remove stored images no recipe references",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "grace",
				Usage: "Keep files younger than this",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, db, err := setup(cmd)
			if err != nil {
				return err
			}
			defer database.Close(db)

			store, err := images.NewStorage(cfg.Media.Root)
			if err != nil {
				return err
			}

			removed, err := maintenance.NewMediaSweeper(db, store, cfg.Media.SweepGrace, nil, log).Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweeping media: %w", err)
			}
			fmt.Fprintf(cmd.Root().Writer, "Removed %d unreferenced file(s)\n", removed)
			return nil
		},
	}
}
