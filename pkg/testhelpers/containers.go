// Package testhelpers spins up a disposable Postgres container for
// integration tests (build tag "integration") that exercise the pgx-backed
// stores against a real database rather than a mock.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/database"
)

// TestDB holds a shared Postgres container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared Postgres container for integration tests,
// creating it once and reusing it across the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})
	if sharedTestDBErr != nil {
		t.Fatalf("failed to set up test database: %v", sharedTestDBErr)
	}
	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "identity_test",
			"POSTGRES_USER":     "identity",
			"POSTGRES_PASSWORD": "identity_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://identity:identity_test@%s:%s/identity_test?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = pool.Ping(ctx); pingErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if pingErr != nil {
		return nil, fmt.Errorf("ping test database: %w", pingErr)
	}

	return &TestDB{Container: container, Pool: pool, ConnStr: connStr}, nil
}

// IdentityDB holds the identity engine's database connection with
// migrations applied, ready for repository tests.
type IdentityDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedIdentityDB     *IdentityDB
	sharedIdentityDBOnce sync.Once
	sharedIdentityDBErr  error
)

// GetIdentityDB returns a shared, migrated database for repository
// integration tests.
func GetIdentityDB(t *testing.T, migrationsPath string) *IdentityDB {
	t.Helper()

	testDB := GetTestDB(t)

	sharedIdentityDBOnce.Do(func() {
		sharedIdentityDB, sharedIdentityDBErr = setupIdentityDB(testDB, migrationsPath)
	})
	if sharedIdentityDBErr != nil {
		t.Fatalf("failed to set up identity database: %v", sharedIdentityDBErr)
	}
	return sharedIdentityDB
}

func setupIdentityDB(testDB *TestDB, migrationsPath string) (*IdentityDB, error) {
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{URL: testDB.ConnStr, MaxConnections: 5})
	if err != nil {
		return nil, fmt.Errorf("connect to identity database: %w", err)
	}

	sqlDB, err := sql.Open("pgx", testDB.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("open sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsPath, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &IdentityDB{DB: db, ConnStr: testDB.ConnStr}, nil
}

// TruncateAll clears every identity-engine table between tests so that
// integration tests stay independent without tearing down the container.
func TruncateAll(t *testing.T, db *database.DB) {
	t.Helper()
	ctx := context.Background()
	tables := []string{
		"entity_review_queue", "link_overrides", "person_blocklist",
		"interactions", "relationships", "source_entities",
	}
	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
