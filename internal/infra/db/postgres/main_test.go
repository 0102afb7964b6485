//go:build integration

package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

var testPool *pgxpool.Pool

// findProjectRoot walks up from the working directory to the directory holding go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root containing go.mod")
}

// startContainer runs a throwaway postgres and returns its DSN and container id.
func startContainer() (string, string) {
	const (
		dbName     = "paywall-test"
		dbUser     = "user"
		dbPassword = "password"
		dbPort     = "5432"
	)
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"--network", "host",
		"-e", fmt.Sprintf("POSTGRES_DB=%s", dbName),
		"-e", fmt.Sprintf("POSTGRES_USER=%s", dbUser),
		"-e", fmt.Sprintf("POSTGRES_PASSWORD=%s", dbPassword),
		"postgres:14",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}
	id := strings.TrimSpace(out.String())
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable", dbUser, dbPassword, dbPort, dbName), id
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	// TEST_DATABASE_URL points at an existing database and skips docker.
	dsn := os.Getenv("TEST_DATABASE_URL")
	containerID := ""
	if dsn == "" {
		dsn, containerID = startContainer()
	}
	stop := func() {
		if containerID == "" {
			return
		}
		if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
			log.Printf("could not stop postgres container %s: %v", containerID, err)
		}
	}

	var err error
	const maxRetries = 15
	for i := 0; i < maxRetries; i++ {
		testPool, err = NewPgxPool(ctx, dsn, 10)
		if err == nil {
			break
		}
		log.Printf("waiting for database (attempt %d/%d)", i+1, maxRetries)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		stop()
		log.Fatalf("unable to connect to test database: %v", err)
	}

	root, err := findProjectRoot()
	if err != nil {
		stop()
		log.Fatalf("error finding project root: %v", err)
	}
	schemaPath := filepath.Join(root, "deploy", "postgres", "init.sql")
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		stop()
		log.Fatalf("could not read %s: %v", schemaPath, err)
	}
	if _, err := testPool.Exec(ctx, string(schema)); err != nil {
		stop()
		log.Fatalf("could not apply schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	stop()
	os.Exit(code)
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `TRUNCATE purchases, subscriptions, resources RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("failed to clean up database: %v", err)
	}
}

func seedResource(t *testing.T, id string, price int64) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
INSERT INTO resources (id, storage_key, class, price, currency, active)
VALUES ($1, $2, 'video', $3, 'INR', TRUE)`, id, "media/"+id, price)
	if err != nil {
		t.Fatalf("failed to seed resource %s: %v", id, err)
	}
}
