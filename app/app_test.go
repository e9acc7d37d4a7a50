package app

import (
	"bufio"
	"context"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/searchktools/embed-server/config"
	"github.com/searchktools/embed-server/core"
	"github.com/searchktools/embed-server/core/logging"
)

func TestAppRun(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>home</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Port = 0
	cfg.Localhost = true
	cfg.Root = root
	cfg.ShutdownGrace = time.Second

	server := core.NewServer(nil)
	a := NewWithServer(cfg, logging.NopLogger{}, server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !server.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(server.Port())))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	io.WriteString(conn, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<h1>home</h1>" {
		t.Errorf("Body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if server.IsRunning() {
		t.Error("Server still running")
	}
}

func TestAppRunInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMethod = "basic"
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Basic auth without accounts fails validation.
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run accepted basic auth without accounts")
	}
}
