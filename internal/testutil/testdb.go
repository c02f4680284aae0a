package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/josh-kwaku/wallet-ledger/internal/repository"
)

const templateDB = "wallet_template"

// server is one Postgres per test binary. Every test gets its own database
// cloned from a migrated template, so tests never see each other's wallets.
var server struct {
	once  sync.Once
	admin *sql.DB
	dsn   *url.URL
	err   error
	mu    sync.Mutex
	seq   atomic.Int64
}

// SetupTestDB returns a fresh, migrated database. TEST_DATABASE_URL points
// the tests at an existing server instead of starting a container.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	server.once.Do(func() { server.err = startServer() })
	if server.err != nil {
		t.Fatalf("test database: %v", server.err)
	}

	name := fmt.Sprintf("wallet_test_%d_%d", os.Getpid(), server.seq.Add(1))
	server.mu.Lock()
	_, err := server.admin.Exec(fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", name, templateDB))
	server.mu.Unlock()
	if err != nil {
		t.Fatalf("create database %s: %v", name, err)
	}

	db, err := sql.Open("postgres", withDatabase(server.dsn, name))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(20)

	t.Cleanup(func() {
		db.Close()
		if _, err := server.admin.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", name)); err != nil {
			t.Logf("drop database %s: %v", name, err)
		}
	})
	return db
}

func startServer() error {
	raw := os.Getenv("TEST_DATABASE_URL")
	if raw == "" {
		ctx := context.Background()
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			return fmt.Errorf("start postgres container: %w", err)
		}
		if raw, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
			return fmt.Errorf("connection string: %w", err)
		}
	}

	dsn, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	admin, err := sql.Open("postgres", raw)
	if err != nil {
		return fmt.Errorf("open admin: %w", err)
	}
	admin.SetMaxOpenConns(2)

	if _, err := admin.Exec("DROP DATABASE IF EXISTS " + templateDB + " WITH (FORCE)"); err != nil {
		return fmt.Errorf("drop template: %w", err)
	}
	if _, err := admin.Exec("CREATE DATABASE " + templateDB); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	if err := repository.Migrate(withDatabase(dsn, templateDB), findMigrationsDir()); err != nil {
		return fmt.Errorf("migrate template: %w", err)
	}

	server.admin = admin
	server.dsn = dsn
	return nil
}

func withDatabase(dsn *url.URL, name string) string {
	u := *dsn
	u.Path = "/" + name
	return u.String()
}

// findMigrationsDir walks up from the package under test to the module root.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for dir != filepath.Dir(dir) {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}
