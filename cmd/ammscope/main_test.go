package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"ammscope/internal/display"
	"ammscope/internal/model"
	"ammscope/internal/upstream"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	if err != nil || logger == nil {
		t.Fatalf("newLogger(debug) = %v, %v", logger, err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("newLogger accepted an unknown level")
	}
}

func TestPingAllReportsEveryPool(t *testing.T) {
	refuse := func(context.Context, string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	connector := upstream.NewConnector(upstream.WithDialer(refuse), upstream.WithConnectTimeout(time.Second))

	pools := model.DefaultPoolPrograms()
	results := pingAll(context.Background(), connector, pools)
	if len(results) != len(pools) {
		t.Fatalf("got %d results, want %d", len(results), len(pools))
	}
	for i, r := range results {
		if r.pool.ID != pools[i].ID || r.outcome != "connect refused" {
			t.Fatalf("result %d = %s %q", i, r.pool.ID, r.outcome)
		}
	}

	var buf bytes.Buffer
	if err := writePingResults(&buf, results); err != nil {
		t.Fatalf("writePingResults: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Meteora DLMM") {
		t.Fatalf("output missing pool name:\n%s", out)
	}
	if n := strings.Count(out, "\n"); n != len(pools)+1 {
		t.Fatalf("got %d lines, want %d", n, len(pools)+1)
	}
}

func TestRenderLoopStopsWhenConsumed(t *testing.T) {
	table := display.NewTable(2)
	consumed := make(chan struct{})

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- renderLoop(context.Background(), consumed, &buf, table, time.Hour)
	}()
	close(consumed)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("renderLoop = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("render loop did not stop")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"run"}, {"ping"}, {"upstream", "serve"}, {"pools", "import"}, {"pools", "list"}, {"pools", "disable"}} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("Find(%v): %v", path, err)
		}
		if cmd.Name() != path[len(path)-1] {
			t.Fatalf("Find(%v) = %q", path, cmd.Name())
		}
	}
}
