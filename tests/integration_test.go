package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

// freePort reserves a port by binding to :0 and releasing it. A racing
// process could grab it before the server does, but in practice it holds.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, port int, extraEnv ...string) *exec.Cmd {
	t.Helper()

	tmpDir := t.TempDir()

	cmd := exec.Command(binaryPath, "-data", tmpDir)
	input, _ := os.Open("/dev/null")
	cmd.Stdin = input
	t.Cleanup(func() { input.Close() })

	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DOCUEXTRACT_SERVER_PORT=%d", port),
		"DOCUEXTRACT_VISION_ENABLED=false",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	})

	return cmd
}

func waitForHealth(t *testing.T, port int) map[string]any {
	t.Helper()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	deadline := time.Now().Add(15 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var body map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode health response: %v", err)
				}
				return body
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatal("server did not become healthy in time")
	return nil
}

func TestServerStartsAndServesHealth(t *testing.T) {
	port := freePort(t)
	startServer(t, port)

	body := waitForHealth(t, port)
	if body["status"] == "" {
		t.Error("health response missing status")
	}
	if body["version"] == "" {
		t.Error("health response missing version")
	}
}

func TestServerShutsDownOnSigterm(t *testing.T) {
	port := freePort(t)
	cmd := startServer(t, port)

	waitForHealth(t, port)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal server: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server exited with error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down after SIGTERM")
	}
}

func TestServerRejectsUnknownRoute(t *testing.T) {
	port := freePort(t)
	startServer(t, port)
	waitForHealth(t, port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/nope", port))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("error body missing message")
	}
}

func TestServerServesMetrics(t *testing.T) {
	port := freePort(t)
	startServer(t, port)
	waitForHealth(t, port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDataFlagCreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "fresh")

	cmd := exec.Command(binaryPath, "-init-config", "-data", dataDir)
	input, _ := os.Open("/dev/null")
	cmd.Stdin = input
	defer input.Close()

	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("-init-config failed: %v\n%s", err, output)
	}

	if _, err := os.Stat(dataDir); err != nil {
		t.Fatalf("data directory not created: %v", err)
	}
}
