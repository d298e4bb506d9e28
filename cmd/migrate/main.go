package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/wolfman30/medicarex-booking/migrations"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	if err := run(databaseURL, os.Args[1:]); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

// run applies the embedded migrations. Supported commands:
//
//	migrate              apply every pending migration
//	migrate down <n>     roll back n migrations
//	migrate force <v>    mark version v as clean after a failed run
func run(databaseURL string, args []string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	m, err := newMigrator(dbDriver)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	cmd, n, err := parseArgs(args)
	if err != nil {
		return err
	}
	switch cmd {
	case "force":
		if err := m.Force(n); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		fmt.Printf("forced version to %d\n", n)
		return nil
	case "down":
		if err := m.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Printf("rolled back %d migration(s)\n", n)
		return nil
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Println("migrations complete")
	return nil
}

func newMigrator(dbDriver database.Driver) (*migrate.Migrate, error) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func parseArgs(args []string) (string, int, error) {
	if len(args) == 0 || args[0] == "up" {
		return "up", 0, nil
	}
	cmd := args[0]
	if cmd != "force" && cmd != "down" {
		return "", 0, fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) < 2 {
		if cmd == "down" {
			return cmd, 1, nil
		}
		return "", 0, fmt.Errorf("%s requires a version", cmd)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid version: %w", err)
	}
	if cmd == "down" && n <= 0 {
		return "", 0, fmt.Errorf("down requires a positive step count")
	}
	return cmd, n, nil
}
