package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Schema migration runner for the rule-document store.
//
//	migrate -database $DATABASE_URL up
//	migrate down
//	migrate version
//	migrate force <version>

func main() {
	databaseURL := flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (defaults to DATABASE_URL)")
	migrationsPath := flag.String("path", "migrations", "migrations directory")
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("database URL is required: pass -database or set DATABASE_URL")
	}

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	m, err := migrate.New("file://"+*migrationsPath, *databaseURL)
	if err != nil {
		log.Fatalf("failed to open migration source: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		switch err := m.Up(); {
		case errors.Is(err, migrate.ErrNoChange):
			log.Println("schema already up to date")
		case err != nil:
			log.Fatalf("migration failed: %v", err)
		default:
			log.Println("schema migrated")
		}

	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("rollback failed: %v", err)
		}
		log.Println("schema rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("failed to read schema version: %v", err)
		}
		log.Printf("schema version %d (dirty: %v)", version, dirty)

	case "force":
		if flag.NArg() < 2 {
			log.Fatal("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatalf("invalid version %q: %v", flag.Arg(1), err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		log.Printf("schema version forced to %d", version)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down, version, or force)\n", command)
		os.Exit(2)
	}
}
