package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const templateDB = "sep_template"

// One container serves the whole test binary. Every test gets its own
// database cloned from a migrated template, so tests never see each other's
// rows. The container is reaped by testcontainers when the process exits.
var (
	containerOnce sync.Once
	adminDSN      string
	containerErr  error
	dbSeq         atomic.Int64
)

func startContainer() {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(templateDB),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		containerErr = fmt.Errorf("start postgres container: %w", err)
		return
	}

	templateDSN, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		containerErr = fmt.Errorf("get connection string: %w", err)
		return
	}

	db, err := sql.Open("postgres", templateDSN)
	if err != nil {
		containerErr = fmt.Errorf("open template db: %w", err)
		return
	}
	err = runMigrations(db)
	db.Close()
	if err != nil {
		containerErr = fmt.Errorf("run migrations: %w", err)
		return
	}

	adminDSN, containerErr = withDatabase(templateDSN, "postgres")
}

func withDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}

// SetupTestDB returns a connection to a fresh, fully migrated database that
// is dropped when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	containerOnce.Do(startContainer)
	if containerErr != nil {
		t.Fatalf("test postgres: %v", containerErr)
	}

	admin, err := sql.Open("postgres", adminDSN)
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	name := fmt.Sprintf("t_%d_%d", os.Getpid(), dbSeq.Add(1))
	if _, err := admin.Exec(`CREATE DATABASE ` + name + ` TEMPLATE ` + templateDB); err != nil {
		t.Fatalf("create test database: %v", err)
	}

	dsn, err := withDatabase(adminDSN, name)
	if err != nil {
		t.Fatalf("test dsn: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		if _, err := admin.Exec(`DROP DATABASE IF EXISTS ` + name + ` WITH (FORCE)`); err != nil {
			t.Logf("drop test database %s: %v", name, err)
		}
	})
	return db
}

func runMigrations(db *sql.DB) error {
	migrationsDir := findMigrationsDir()

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, f := range upFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
	}

	return nil
}

// findMigrationsDir walks up from the package directory go test runs in.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for range 10 {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}
