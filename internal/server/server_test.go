package server

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janus-ipc/janus/internal/client"
	"github.com/janus-ipc/janus/internal/config"
	"github.com/janus-ipc/janus/internal/manifest"
	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/testutil/testlog"
)

const testManifest = `{
  "name": "test-api",
  "version": "1.0.0",
  "channels": {
    "default": {
      "commands": {
        "get_user": {
          "arguments": {
            "user_id": {"type": "string", "required": true}
          }
        },
        "log_event": {
          "arguments": {
            "event": {"type": "string"}
          }
        }
      }
    }
  }
}`

func startTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, config.ClientConfig) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "janus-srv-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	m, parseErr := manifest.ParseJSON([]byte(testManifest))
	if parseErr != nil {
		t.Fatalf("manifest: %v", parseErr)
	}

	cfg := config.DefaultServerConfig()
	cfg.Name = "test-server"
	cfg.SocketPath = fmt.Sprintf("%s/srv.sock", dir)
	if mutate != nil {
		mutate(&cfg)
	}

	srv, newErr := New(cfg, m)
	if newErr != nil {
		t.Fatalf("new server: %v", newErr)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	clientCfg := config.DefaultClientConfig()
	clientCfg.SocketPath = cfg.SocketPath
	clientCfg.Channel = "default"
	clientCfg.EnableValidation = false
	clientCfg.DefaultTimeout = 5.0
	return srv, clientCfg
}

func dialTest(t *testing.T, cfg config.ClientConfig) *client.Client {
	t.Helper()
	c, err := client.Dial(cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEchoHappyPath(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	resp, rpcErr := c.SendCommand("echo", map[string]any{"message": "hi"}, 0)
	if rpcErr != nil {
		t.Fatalf("echo: %v", rpcErr)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok || result["message"] != "hi" {
		t.Fatalf("unexpected echo result %+v", resp.Result)
	}
}

func TestPingBuiltin(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	resp, rpcErr := c.SendCommand("ping", nil, 0)
	if rpcErr != nil {
		t.Fatalf("ping: %v", rpcErr)
	}
	result := resp.Result.(map[string]any)
	if result["pong"] != true {
		t.Fatalf("unexpected ping result %+v", result)
	}
	if _, ok := result["server_time"].(float64); !ok {
		t.Fatalf("server_time missing: %+v", result)
	}
}

func TestGetInfoBuiltin(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	resp, rpcErr := c.SendCommand("get_info", nil, 0)
	if rpcErr != nil {
		t.Fatalf("get_info: %v", rpcErr)
	}
	result := resp.Result.(map[string]any)
	if result["name"] != "test-server" {
		t.Fatalf("unexpected info %+v", result)
	}
	if _, ok := result["uptime_seconds"].(float64); !ok {
		t.Fatalf("uptime missing: %+v", result)
	}
}

func TestMethodNotFound(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	_, rpcErr := c.SendCommand("nope", nil, 0)
	if rpcErr == nil || rpcErr.Code != protocol.CodeMethodNotFound {
		t.Fatalf("expected -32601, got %v", rpcErr)
	}
}

func TestServerSideValidationFailure(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	_, rpcErr := c.SendCommand("get_user", map[string]any{"user_id": float64(123)}, 0)
	if rpcErr == nil || rpcErr.Code != protocol.CodeValidationError {
		t.Fatalf("expected -32005, got %v", rpcErr)
	}
	errs, ok := rpcErr.Data["errors"].([]any)
	if !ok || len(errs) == 0 {
		t.Fatalf("violations missing: %+v", rpcErr.Data)
	}
	first := errs[0].(map[string]any)
	if first["argument"] != "user_id" {
		t.Fatalf("violation does not name user_id: %+v", first)
	}
}

func TestFireAndForget(t *testing.T) {
	testlog.Start(t)
	dir, err := os.MkdirTemp("/tmp", "janus-srv-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.DefaultServerConfig()
	cfg.Name = "ff-server"
	cfg.SocketPath = fmt.Sprintf("%s/srv.sock", dir)

	srv, newErr := New(cfg, nil)
	if newErr != nil {
		t.Fatalf("new: %v", newErr)
	}
	var invoked atomic.Int64
	if err := srv.RegisterHandler("log_event", func(req *protocol.Request) (any, *protocol.JSONRPCError) {
		invoked.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	clientCfg := config.DefaultClientConfig()
	clientCfg.SocketPath = cfg.SocketPath
	clientCfg.Channel = "default"
	clientCfg.EnableValidation = false
	c := dialTest(t, clientCfg)

	start := time.Now()
	if rpcErr := c.SendCommandNoResponse("log_event", map[string]any{"event": "boot"}); rpcErr != nil {
		t.Fatalf("fire-and-forget: %v", rpcErr)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("fire-and-forget blocked for %v", elapsed)
	}

	deadline := time.Now().Add(time.Second)
	for invoked.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if invoked.Load() != 1 {
		t.Fatalf("handler not invoked")
	}
}

func TestTimeoutWhileHandlerRuns(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	start := time.Now()
	_, rpcErr := c.SendCommand("slow_process", map[string]any{"duration_ms": float64(2000)}, 100*time.Millisecond)
	elapsed := time.Since(start)
	if rpcErr == nil || rpcErr.Code != protocol.CodeTimeout {
		t.Fatalf("expected -32011, got %v", rpcErr)
	}
	if elapsed < 99*time.Millisecond {
		t.Fatalf("timeout fired early after %v", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Fatalf("timeout fired late after %v", elapsed)
	}
}

func TestConcurrentCorrelation(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	const n = 100
	rng := rand.New(rand.NewSource(7))
	durations := make([]float64, n)
	for i := range durations {
		durations[i] = float64(10 + rng.Intn(190))
	}

	var wg sync.WaitGroup
	failures := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(ms float64) {
			defer wg.Done()
			resp, rpcErr := c.SendCommand("slow_process", map[string]any{"duration_ms": ms}, 5*time.Second)
			if rpcErr != nil {
				failures <- rpcErr.Error()
				return
			}
			result := resp.Result.(map[string]any)
			if result["slept_ms"] != ms {
				failures <- fmt.Sprintf("cross-talk: sent %v got %v", ms, result["slept_ms"])
			}
		}(durations[i])
	}
	wg.Wait()
	close(failures)
	for failure := range failures {
		t.Fatalf("correlation failure: %s", failure)
	}
}

func TestValidateBuiltin(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)
	c := dialTest(t, cfg)

	resp, rpcErr := c.SendCommand("validate", map[string]any{
		"command":   "get_user",
		"arguments": map[string]any{"user_id": float64(9)},
	}, 0)
	if rpcErr != nil {
		t.Fatalf("validate: %v", rpcErr)
	}
	result := resp.Result.(map[string]any)
	if result["valid"] != false {
		t.Fatalf("expected invalid, got %+v", result)
	}
	if errs := result["errors"].([]any); len(errs) == 0 {
		t.Fatalf("violations missing")
	}
}

func TestSpecBuiltinAndAutoFetch(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, nil)

	cfg.EnableValidation = true
	c := dialTest(t, cfg)
	if c.Manifest() == nil {
		t.Fatalf("manifest not fetched at construction")
	}
	if _, err := c.Manifest().Lookup("default", "get_user"); err != nil {
		t.Fatalf("fetched manifest incomplete: %v", err)
	}

	// Local validation now rejects a bad call before it reaches the socket.
	_, rpcErr := c.SendCommand("get_user", map[string]any{"user_id": float64(1)}, 0)
	if rpcErr == nil || rpcErr.Code != protocol.CodeValidationError {
		t.Fatalf("expected local -32005, got %v", rpcErr)
	}
}

func TestAutoFetchFailureIsFatal(t *testing.T) {
	testlog.Start(t)
	dir, err := os.MkdirTemp("/tmp", "janus-srv-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	clientCfg := config.DefaultClientConfig()
	clientCfg.SocketPath = fmt.Sprintf("%s/absent.sock", dir)
	clientCfg.Channel = "default"
	clientCfg.EnableValidation = true
	clientCfg.DefaultTimeout = 0.2

	if _, err := client.Dial(clientCfg); err == nil {
		t.Fatalf("dial must fail when spec fetch fails")
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	testlog.Start(t)
	dir, err := os.MkdirTemp("/tmp", "janus-srv-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.DefaultServerConfig()
	cfg.Name = "panic-server"
	cfg.SocketPath = fmt.Sprintf("%s/srv.sock", dir)
	srv, newErr := New(cfg, nil)
	if newErr != nil {
		t.Fatalf("new: %v", newErr)
	}
	if err := srv.RegisterHandler("explode", func(req *protocol.Request) (any, *protocol.JSONRPCError) {
		panic("boom")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	clientCfg := config.DefaultClientConfig()
	clientCfg.SocketPath = cfg.SocketPath
	clientCfg.Channel = "default"
	clientCfg.EnableValidation = false
	c := dialTest(t, clientCfg)

	_, rpcErr := c.SendCommand("explode", nil, 0)
	if rpcErr == nil || rpcErr.Code != protocol.CodeInternalError {
		t.Fatalf("expected -32603, got %v", rpcErr)
	}
	if trace, ok := rpcErr.Data["trace"].(string); !ok || trace == "" {
		t.Fatalf("trace missing: %+v", rpcErr.Data)
	}

	// The server keeps serving after the panic.
	if _, rpcErr := c.SendCommand("ping", nil, 0); rpcErr != nil {
		t.Fatalf("server died after panic: %v", rpcErr)
	}
}

func TestOverloadedDispatch(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, func(sc *config.ServerConfig) {
		sc.MaxConcurrentHandlers = 1
	})
	c := dialTest(t, cfg)

	slow, rpcErr := c.SendCommandWithHandle("slow_process", map[string]any{"duration_ms": float64(500)}, 2*time.Second)
	if rpcErr != nil {
		t.Fatalf("first send: %v", rpcErr)
	}
	time.Sleep(50 * time.Millisecond)

	_, rpcErr = c.SendCommand("ping", nil, time.Second)
	if rpcErr == nil || rpcErr.Code != protocol.CodeServerError {
		t.Fatalf("expected overloaded server error, got %v", rpcErr)
	}

	result := <-slow.Done()
	if result.Err != nil {
		t.Fatalf("slow request failed: %v", result.Err)
	}
}

func TestRegisterHandlerRejectsReserved(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultServerConfig()
	cfg.SocketPath = "/tmp/unused.sock"
	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, name := range manifest.ReservedCommands {
		if err := srv.RegisterHandler(name, func(req *protocol.Request) (any, *protocol.JSONRPCError) {
			return nil, nil
		}); err == nil {
			t.Fatalf("reserved command %q registered", name)
		}
	}
}

func TestSlowProcessBounded(t *testing.T) {
	testlog.Start(t)
	_, cfg := startTestServer(t, func(sc *config.ServerConfig) {
		sc.SlowProcessMaxMS = 50
	})
	c := dialTest(t, cfg)

	start := time.Now()
	resp, rpcErr := c.SendCommand("slow_process", map[string]any{"duration_ms": float64(10_000)}, 2*time.Second)
	if rpcErr != nil {
		t.Fatalf("slow_process: %v", rpcErr)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("bound not applied, took %v", elapsed)
	}
	result := resp.Result.(map[string]any)
	if result["slept_ms"] != float64(50) {
		t.Fatalf("unexpected slept_ms %+v", result)
	}
}
