package testutil

import (
	"database/sql"
	"math"
	"os"
	"testing"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/db"
)

// TestDim matches the vector width of the embedded migrations.
const TestDim = 768

// OpenTestDB connects to the postgres instance named by TEST_DB_HOST and
// applies migrations. The database needs the pgvector extension available.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "evermind",
		Password: "evermind_pass",
		DBName:   "evermind_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

// Vec builds a deterministic vector of the given dimension. Vectors built
// from different angles point in different directions, so cosine similarity
// against a query vector is controllable in tests.
func Vec(dim int, angle float64) []float32 {
	values := make([]float32, dim)
	values[0] = float32(math.Cos(angle))
	values[1] = float32(math.Sin(angle))
	return values
}
