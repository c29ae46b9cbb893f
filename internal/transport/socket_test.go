package transport

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/janus-ipc/janus/internal/protocol"
	"github.com/janus-ipc/janus/internal/testutil/testlog"
)

func tempSockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "janus-test-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return fmt.Sprintf("%s/t.sock", dir)
}

func TestBindSendRecvRoundTrip(t *testing.T) {
	testlog.Start(t)
	path := tempSockPath(t)
	sock, rpcErr := Bind(path, BindOptions{})
	if rpcErr != nil {
		t.Fatalf("bind: %v", rpcErr)
	}
	defer sock.Close()

	if rpcErr := Send(path, []byte("hello"), 0); rpcErr != nil {
		t.Fatalf("send: %v", rpcErr)
	}
	buf := make([]byte, 1024)
	got, rpcErr := sock.Recv(buf)
	if rpcErr != nil {
		t.Fatalf("recv: %v", rpcErr)
	}
	if string(got) != "hello" {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestBindSetsOwnerOnlyPermissions(t *testing.T) {
	testlog.Start(t)
	path := tempSockPath(t)
	sock, rpcErr := Bind(path, BindOptions{})
	if rpcErr != nil {
		t.Fatalf("bind: %v", rpcErr)
	}
	defer sock.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("unexpected permissions %o", perm)
	}
}

func TestBindRejectsLiveSocket(t *testing.T) {
	testlog.Start(t)
	path := tempSockPath(t)
	sock, rpcErr := Bind(path, BindOptions{})
	if rpcErr != nil {
		t.Fatalf("bind: %v", rpcErr)
	}
	defer sock.Close()

	_, rpcErr = Bind(path, BindOptions{})
	if rpcErr == nil || rpcErr.Code != protocol.CodeTransportError {
		t.Fatalf("expected transport error for live socket, got %v", rpcErr)
	}
}

func TestBindRecoversStaleSocket(t *testing.T) {
	testlog.Start(t)
	path := tempSockPath(t)
	sock, rpcErr := Bind(path, BindOptions{})
	if rpcErr != nil {
		t.Fatalf("bind: %v", rpcErr)
	}
	// Close without removing the file to fake a crashed listener.
	sock.conn.Close()
	if _, err := os.Stat(path); err != nil {
		// net may unlink on close; recreate the stale file case via a plain bind+close
		t.Skipf("socket file removed on close: %v", err)
	}

	again, rpcErr := Bind(path, BindOptions{})
	if rpcErr != nil {
		t.Fatalf("stale rebind: %v", rpcErr)
	}
	again.Close()
}

func TestBindCleanupOnStart(t *testing.T) {
	testlog.Start(t)
	path := tempSockPath(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("plant file: %v", err)
	}
	sock, rpcErr := Bind(path, BindOptions{CleanupOnStart: true})
	if rpcErr != nil {
		t.Fatalf("bind with cleanup: %v", rpcErr)
	}
	sock.Close()
}

func TestSendRejectsOversizePreSyscall(t *testing.T) {
	testlog.Start(t)
	rpcErr := Send("/tmp/never-dialed.sock", make([]byte, 100), 10)
	if rpcErr == nil || rpcErr.Code != protocol.CodeMessageTooLarge {
		t.Fatalf("expected message-too-large, got %v", rpcErr)
	}
}

func TestSendToMissingPath(t *testing.T) {
	testlog.Start(t)
	rpcErr := Send(tempSockPath(t), []byte("x"), 0)
	if rpcErr == nil || rpcErr.Code != protocol.CodeTransportError {
		t.Fatalf("expected transport error, got %v", rpcErr)
	}
}

func TestRecvDeadlineMapsToTimeout(t *testing.T) {
	testlog.Start(t)
	sock, rpcErr := Bind(tempSockPath(t), BindOptions{})
	if rpcErr != nil {
		t.Fatalf("bind: %v", rpcErr)
	}
	defer sock.Close()

	sock.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, rpcErr = sock.Recv(make([]byte, 64))
	if !IsTimeout(rpcErr) {
		t.Fatalf("expected timeout, got %v", rpcErr)
	}
}

func TestReplySocketLifecycle(t *testing.T) {
	testlog.Start(t)
	dir, err := os.MkdirTemp("/tmp", "janus-reply-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	reply, rpcErr := NewReplySocket(dir)
	if rpcErr != nil {
		t.Fatalf("reply socket: %v", rpcErr)
	}
	if _, err := os.Stat(reply.Path()); err != nil {
		t.Fatalf("reply socket file missing: %v", err)
	}
	reply.Close()
	if _, err := os.Stat(reply.Path()); !os.IsNotExist(err) {
		t.Fatalf("reply socket file not removed")
	}
}
