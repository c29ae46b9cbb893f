package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/janus-ipc/janus/internal/config"
	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/server"
	"github.com/janus-ipc/janus/internal/testutil/testlog"
)

func startEchoServer(t *testing.T) (string, string) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "janus-cli-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	m, parseErr := manifest.ParseJSON([]byte(`{
	  "name": "cli-api", "version": "1.0.0",
	  "channels": {"default": {"commands": {
	    "get_user": {"arguments": {"user_id": {"type": "string", "required": true}}}
	  }}}
	}`))
	if parseErr != nil {
		t.Fatalf("manifest: %v", parseErr)
	}

	cfg := config.DefaultServerConfig()
	cfg.Name = "cli-server"
	cfg.SocketPath = fmt.Sprintf("%s/srv.sock", dir)
	srv, newErr := server.New(cfg, m)
	if newErr != nil {
		t.Fatalf("new server: %v", newErr)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return cfg.SocketPath, dir
}

func testClientConfig(socketPath string) config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.SocketPath = socketPath
	cfg.Channel = "default"
	cfg.EnableValidation = false
	return cfg
}

func TestSendCommandWithHandleLifecycle(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	h, rpcErr := c.SendCommandWithHandle("slow_process", map[string]any{"duration_ms": float64(50)}, time.Second)
	if rpcErr != nil {
		t.Fatalf("send: %v", rpcErr)
	}
	if h.Status() != StatusPending {
		t.Fatalf("fresh handle not pending: %s", h.Status())
	}
	if got := c.GetRequestStatus(h); got != StatusPending {
		t.Fatalf("status lookup got=%s", got)
	}

	result := <-h.Done()
	if result.Err != nil {
		t.Fatalf("request failed: %v", result.Err)
	}
	if h.Status() != StatusCompleted {
		t.Fatalf("handle not completed: %s", h.Status())
	}
	if c.Stats().PendingCount != 0 {
		t.Fatalf("registry not drained")
	}
}

func TestCancelRequest(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	h, rpcErr := c.SendCommandWithHandle("slow_process", map[string]any{"duration_ms": float64(2000)}, 5*time.Second)
	if rpcErr != nil {
		t.Fatalf("send: %v", rpcErr)
	}
	if !c.CancelRequest(h) {
		t.Fatalf("cancel should succeed while pending")
	}
	result := <-h.Done()
	if result.Err == nil || result.Err.Code != protocol.CodeCancelled {
		t.Fatalf("expected -32012, got %+v", result)
	}
	if c.CancelRequest(h) {
		t.Fatalf("second cancel must report false")
	}
	if h.Status() != StatusCancelled {
		t.Fatalf("terminal state not sticky")
	}
}

func TestCancelAllRequests(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	handles := make([]*Handle, 3)
	for i := range handles {
		h, rpcErr := c.SendCommandWithHandle("slow_process", map[string]any{"duration_ms": float64(3000)}, 10*time.Second)
		if rpcErr != nil {
			t.Fatalf("send %d: %v", i, rpcErr)
		}
		handles[i] = h
	}
	if got := len(c.GetPendingRequests()); got != 3 {
		t.Fatalf("pending snapshot got=%d", got)
	}
	if got := c.CancelAllRequests(); got != 3 {
		t.Fatalf("cancel-all count got=%d", got)
	}
	for _, h := range handles {
		result := <-h.Done()
		if result.Err == nil || result.Err.Code != protocol.CodeCancelled {
			t.Fatalf("handle %s not cancelled", h.ID)
		}
	}
}

func TestNoResponseLeavesNoReplySocket(t *testing.T) {
	testlog.Start(t)
	socketPath, dir := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if rpcErr := c.SendCommandNoResponse("echo", map[string]any{"message": "x"}); rpcErr != nil {
		t.Fatalf("no-response send: %v", rpcErr)
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("readdir: %v", readErr)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".reply-") {
			t.Fatalf("fire-and-forget created reply socket %s", entry.Name())
		}
	}
}

func TestReplySocketRemovedAfterCompletion(t *testing.T) {
	testlog.Start(t)
	socketPath, dir := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, rpcErr := c.SendCommand("ping", nil, time.Second); rpcErr != nil {
		t.Fatalf("ping: %v", rpcErr)
	}
	matches, globErr := filepath.Glob(filepath.Join(dir, ".reply-*.sock"))
	if globErr != nil {
		t.Fatalf("glob: %v", globErr)
	}
	if len(matches) != 0 {
		t.Fatalf("reply sockets leaked: %v", matches)
	}
}

func TestNegativeTimeoutRejected(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, rpcErr := c.SendCommand("ping", nil, -time.Second)
	if rpcErr == nil || rpcErr.Code != protocol.CodeInvalidRequest {
		t.Fatalf("expected invalid-request, got %v", rpcErr)
	}
}

func TestTimeoutMonotonicity(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	c, err := Dial(testClientConfig(socketPath))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	const timeout = 100 * time.Millisecond
	start := time.Now()
	_, rpcErr := c.SendCommand("slow_process", map[string]any{"duration_ms": float64(5000)}, timeout)
	elapsed := time.Since(start)
	if rpcErr == nil || rpcErr.Code != protocol.CodeTimeout {
		t.Fatalf("expected timeout, got %v", rpcErr)
	}
	if elapsed < timeout-time.Millisecond {
		t.Fatalf("resolved before T-eps: %v", elapsed)
	}
	if elapsed > timeout+200*time.Millisecond {
		t.Fatalf("resolved after T+delta: %v", elapsed)
	}
}

func TestLocalMethodNotFoundWithManifest(t *testing.T) {
	testlog.Start(t)
	socketPath, _ := startEchoServer(t)
	cfg := testClientConfig(socketPath)
	cfg.EnableValidation = true
	c, err := Dial(cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, rpcErr := c.SendCommand("bogus", nil, time.Second)
	if rpcErr == nil || rpcErr.Code != protocol.CodeMethodNotFound {
		t.Fatalf("expected -32601 locally, got %v", rpcErr)
	}
}
