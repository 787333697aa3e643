package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"playersync/logging"
	"playersync/server"
	"playersync/transport"
)

func TestSchemaCommand_WritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "protocol.schema.json")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--log-file", "", "schema", "--out", out})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not valid json: %v", err)
	}
	variants, ok := doc["oneOf"].([]any)
	if !ok || len(variants) != 9 {
		t.Fatalf("expected 9 message variants, got %v", doc["oneOf"])
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away")
	}
}

func TestSchemaCommand_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	for _, name := range []string{"LOGIN", "PLAYER_ACTION", "ERROR"} {
		if !strings.Contains(buf.String(), `"title": "`+name+`"`) {
			t.Fatalf("expected schema output to describe %s", name)
		}
	}
}

func TestServeCommand_RejectsUnknownTransport(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--log-file", "", "serve", "--transport", "carrier-pigeon", "--admin-addr", ""})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown transport") {
		t.Fatalf("expected unknown transport error, got %v", err)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("PLAYERSYNC_TEST_ADDR", ":9999")
	if got := envOr("PLAYERSYNC_TEST_ADDR", ":8888"); got != ":9999" {
		t.Fatalf("expected env value, got %q", got)
	}
	if got := envOr("PLAYERSYNC_TEST_UNSET", ":8888"); got != ":8888" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRunBot_WandersAndActs(t *testing.T) {
	n := transport.NewNetwork()
	cfg := server.DefaultConfig()
	cfg.Addr = "server"
	table := server.NewTable(cfg)
	srv := server.New(cfg, n, table, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	srvCtx, stopSrv := context.WithCancel(context.Background())
	srvDone := make(chan struct{})
	go func() {
		_ = srv.Run(srvCtx)
		close(srvDone)
	}()
	defer func() {
		stopSrv()
		<-srvDone
	}()

	opts := &botOptions{
		server:         "server",
		playerPrefix:   "bot-",
		tick:           5 * time.Millisecond,
		actionEvery:    2,
		heartbeat:      time.Second,
		reconnectDelay: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runBot(ctx, 0, n, opts, logging.Nop())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, known := table.Player("bot-0", time.Now())
		m := table.Metrics()
		if known && atomic.LoadInt64(&m.MovesApplied) > 0 && atomic.LoadInt64(&m.ActionsApplied) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bot never moved and acted (known=%v moves=%d actions=%d)",
				known, atomic.LoadInt64(&m.MovesApplied), atomic.LoadInt64(&m.ActionsApplied))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("bot did not stop after cancel")
	}
}
