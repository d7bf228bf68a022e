package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ManuelReschke/QRFox/internal/pkg/env"
)

func main() {
	if err := env.SetupEnvFile(); err != nil {
		log.Printf("%v, using the process environment", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	user := env.GetEnv("DB_USER", "qrfox")
	host := env.GetEnv("DB_HOST", "db")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_NAME", "qrfox_db")
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		user, env.GetEnv("DB_PASSWORD", "qrfox"), host, port, name)
	log.Printf("Connecting to %s@%s:%s/%s", user, host, port, name)

	m, err := migrate.New(env.GetEnv("MIGRATIONS_PATH", "file://migrations"), dbURL)
	if err != nil {
		log.Fatalf("Could not initialise migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("Closing migration resources failed: %v, %v", sourceErr, dbErr)
		}
	}()

	switch os.Args[1] {
	case "up":
		report(m.Up(), "Migrations applied")

	case "down":
		report(m.Steps(-1), "Rolled back the last migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("Invalid version: %v", err)
		}
		report(m.Migrate(uint(version)), fmt.Sprintf("Migrated to version %d", version))

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Println("No migrations applied yet")
		case err != nil:
			log.Fatalf("Reading the migration version failed: %v", err)
		case dirty:
			log.Printf("Current version: %d (dirty)", version)
		default:
			log.Printf("Current version: %d", version)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func report(err error, success string) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No change: database is up to date")
	case err != nil:
		log.Fatalf("Migration failed: %v", err)
	default:
		log.Println(success)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - print the current version")
}
