//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// shelfsyncServer manages a running `shelfsync serve` process.
type shelfsyncServer struct {
	cmd     *exec.Cmd
	dataDir string
	port    int
	logFile *os.File
}

// startServer launches the binary and waits for it to become healthy.
// The server is configured entirely via environment variables.
func startServer(t *testing.T, dataDir string, port int) *shelfsyncServer {
	t.Helper()
	requireShelfsync(t)

	lf, err := os.OpenFile(filepath.Join(dataDir, "server.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err, "open log file")

	cmd := exec.Command(shelfsyncBin, "serve")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SHELFSYNC_PORT=%d", port),
		"SHELFSYNC_DB_PATH="+filepath.Join(dataDir, "server.db"),
		"SHELFSYNC_SNAPSHOT_DIR="+filepath.Join(dataDir, "snapshots"),
		"SHELFSYNC_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
	)
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		require.NoError(t, err, "start shelfsync")
	}

	s := &shelfsyncServer{cmd: cmd, dataDir: dataDir, port: port, logFile: lf}
	t.Cleanup(s.stop)

	require.NoError(t, s.waitHealthy(10*time.Second))
	return s
}

func (s *shelfsyncServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
	s.logFile.Close()
}

// restart stops the server and starts it again on the same port and data.
func (s *shelfsyncServer) restart(t *testing.T) *shelfsyncServer {
	t.Helper()
	s.stop()
	return startServer(t, s.dataDir, s.port)
}

func (s *shelfsyncServer) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

func (s *shelfsyncServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("shelfsync not healthy after %s", timeout)
}

// books fetches the first 100 books straight from the API.
func (s *shelfsyncServer) books(t *testing.T) []map[string]any {
	t.Helper()
	resp, err := http.Get(s.baseURL() + "/api/books?limit=100")
	require.NoError(t, err, "list books")
	defer resp.Body.Close()

	var page struct {
		Books []map[string]any `json:"books"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page), "decode books")
	return page.Books
}

// shelfsyncCLI runs client commands with an isolated durable store.
type shelfsyncCLI struct {
	storePath string
	apiURL    string
}

func newCLI(t *testing.T, server *shelfsyncServer) *shelfsyncCLI {
	t.Helper()
	return &shelfsyncCLI{
		storePath: filepath.Join(t.TempDir(), "client.db"),
		apiURL:    server.baseURL() + "/api",
	}
}

func (c *shelfsyncCLI) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(shelfsyncBin, args...)
	cmd.Env = append(os.Environ(),
		"SHELFSYNC_API_URL="+c.apiURL,
		"SHELFSYNC_STORE_PATH="+c.storePath,
		"SHELFSYNC_PROBE_TIMEOUT=1s",
		"SHELFSYNC_LOG_LEVEL=error",
		"SHELFSYNC_CONFIG_PATH=/nonexistent.yaml",
	)
	out, err := cmd.Output()
	return string(out), err
}

func (c *shelfsyncCLI) mustExec(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.exec(t, args...)
	require.NoError(t, err, "shelfsync %v\n%s", args, out)
	return out
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "find free port")
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
