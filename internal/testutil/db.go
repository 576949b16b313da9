package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ignatij/todoflow/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = "5432/tcp"
)

// todoTables lists every table of the schema, children first.
var todoTables = []string{
	"actions", "steps", "task_in_project", "tasks", "trackers",
	"nestings", "protos", "batches", "projects", "actors",
}

// TestDB is a migrated todoflow database running in a throwaway container.
type TestDB struct {
	DB        *sqlx.DB
	ConnStr   string
	container testcontainers.Container
}

// MigrationsURL points golang-migrate at the repository's migrations directory,
// wherever the calling test package lives.
func MigrationsURL() string {
	_, file, _, _ := runtime.Caller(0)
	return "file://" + filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// testDBConfig reads the TODOFLOW_TEST_DB_* variables; host and port come from the container.
func testDBConfig() config.DBConfig {
	return config.DBConfig{
		User:     getenv("TODOFLOW_TEST_DB_USER", "todoflow"),
		Password: getenv("TODOFLOW_TEST_DB_PASSWORD", "todoflow"),
		Name:     getenv("TODOFLOW_TEST_DB_NAME", "todoflow_test"),
		SSLMode:  "disable",
	}
}

// SetupTestDB starts PostgreSQL, applies all migrations and returns a connected TestDB.
// Integration tests are skipped with -short.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file loaded (%v), using the environment", err)
	}
	ctx := context.Background()
	cfg := testDBConfig()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Name,
			},
			// postgres restarts once after initdb, so the ready line shows up twice
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	db, connStr, err := connect(ctx, container, cfg)
	if err != nil {
		if errTerminate := container.Terminate(ctx); errTerminate != nil {
			t.Logf("Failed to terminate container: %v", errTerminate)
		}
		t.Fatalf("Failed to prepare test DB: %v", err)
	}
	return &TestDB{DB: db, ConnStr: connStr, container: container}
}

func connect(ctx context.Context, container testcontainers.Container, cfg config.DBConfig) (*sqlx.DB, string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "container host")
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		return nil, "", errors.Wrap(err, "container port")
	}
	cfg.Host, cfg.Port = host, port.Int()
	connStr := cfg.ConnString()

	var db *sqlx.DB
	for attempt := 1; ; attempt++ {
		if db, err = sqlx.ConnectContext(ctx, "postgres", connStr); err == nil {
			break
		}
		if attempt == 10 {
			return nil, "", errors.Wrap(err, "connect after retries")
		}
		time.Sleep(500 * time.Millisecond)
	}

	m, err := migrate.New(MigrationsURL(), connStr)
	if err != nil {
		db.Close()
		return nil, "", errors.Wrap(err, "initialize migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, "", errors.Wrap(err, "apply migrations")
	}
	return db, connStr, nil
}

// Truncate empties every table between tests sharing a container.
func (td *TestDB) Truncate(t *testing.T) {
	t.Helper()
	query := "TRUNCATE " + strings.Join(todoTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := td.DB.Exec(query); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

// Teardown closes the connection and removes the container.
func (td *TestDB) Teardown(t *testing.T) {
	t.Helper()
	if err := td.DB.Close(); err != nil {
		t.Errorf("Failed to close DB connection: %v", err)
	}
	if err := td.container.Terminate(context.Background()); err != nil {
		t.Fatalf("Failed to terminate container: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
