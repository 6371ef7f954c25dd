package integration

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

// PostgreSQL container settings. The claim race is only meaningful under real
// row locking, so CI runs the suite once more against this container.
const (
	postgresContainerName = "leadclaim-test-postgres"
	postgresUser          = "leadclaim"
	postgresPassword      = "leadclaim"
	postgresDB            = "leadclaim_test"
	postgresImage         = "postgres:16-alpine"
)

// postgresPort is the host port, overridable with TEST_POSTGRES_PORT.
func postgresPort() string {
	if p := os.Getenv("TEST_POSTGRES_PORT"); p != "" {
		return p
	}
	return "5433" // Non-standard port to avoid conflicts
}

// PostgresDSN returns the DSN for the test PostgreSQL container
func PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresPort(), postgresDB)
}

// PostgresEnabled returns true if TEST_POSTGRES=1 is set
func PostgresEnabled() bool {
	return os.Getenv("TEST_POSTGRES") == "1"
}

// StartPostgres starts a fresh PostgreSQL container. The returned cleanup
// removes it after a passing run and keeps it for inspection after a failure.
func StartPostgres() (cleanup func(success bool), err error) {
	_ = docker("rm", "-f", postgresContainerName)

	if err := docker("run", "-d",
		"--name", postgresContainerName,
		"-p", postgresPort()+":5432",
		"-e", "POSTGRES_USER="+postgresUser,
		"-e", "POSTGRES_PASSWORD="+postgresPassword,
		"-e", "POSTGRES_DB="+postgresDB,
		postgresImage,
	); err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	if err := waitForPostgres(30 * time.Second); err != nil {
		return nil, fmt.Errorf("postgres failed to become ready: %w", err)
	}

	return func(success bool) {
		if success {
			if err := docker("rm", "-f", postgresContainerName); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to remove postgres container: %v\n", err)
			}
			return
		}
		separator := strings.Repeat("=", 60)
		fmt.Fprintf(os.Stderr, "\n%s\nTEST FAILED - PostgreSQL container kept for debugging\n", separator)
		fmt.Fprintf(os.Stderr, "Connect: psql %s\n", PostgresDSN())
		fmt.Fprintf(os.Stderr, "Remove:  docker rm -f %s\n%s\n\n", postgresContainerName, separator)
	}, nil
}

func docker(args ...string) error {
	cmd := exec.Command("docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// waitForPostgres waits until pg_isready passes inside the container and the
// mapped port accepts connections from the host.
func waitForPostgres(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := "localhost:" + postgresPort()

	for time.Now().Before(deadline) {
		if docker("exec", postgresContainerName, "pg_isready", "-U", postgresUser, "-d", postgresDB) == nil {
			if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
				conn.Close()
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for postgres on %s", addr)
}
