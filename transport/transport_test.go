package transport

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
	from []string
}

func (in *inbox) recv(from string, payload []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, string(payload))
	in.from = append(in.from, from)
}

func (in *inbox) snapshot() ([]string, []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.msgs...), append([]string(nil), in.from...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestNetwork_DeliversInOrderWithSender(t *testing.T) {
	n := NewNetwork()
	var server inbox
	srv, err := n.Bind("server", server.recv, nil)
	if err != nil {
		t.Fatalf("bind server: %v", err)
	}
	defer srv.Close()
	cli, err := n.Bind("", nil, nil)
	if err != nil {
		t.Fatalf("bind client: %v", err)
	}
	defer cli.Close()

	for _, m := range []string{"a", "b", "c"} {
		if err := cli.Send("server", []byte(m)); err != nil {
			t.Fatalf("send %s: %v", m, err)
		}
	}
	waitFor(t, time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 3
	})
	msgs, from := server.snapshot()
	if strings.Join(msgs, "") != "abc" {
		t.Fatalf("expected in-process delivery to keep order, got %v", msgs)
	}
	if from[0] != cli.LocalAddr() {
		t.Fatalf("expected sender %s, got %s", cli.LocalAddr(), from[0])
	}
}

func TestNetwork_BindConflictAndClose(t *testing.T) {
	n := NewNetwork()
	ep, err := n.Bind("x", nil, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := n.Bind("x", nil, nil); err == nil {
		t.Fatalf("expected second bind on the same address to fail")
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if err := ep.Send("y", []byte("z")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if n.Bound("x") {
		t.Fatalf("expected address to be released after close")
	}
	if _, err := n.Bind("x", nil, nil); err != nil {
		t.Fatalf("rebinding a released address failed: %v", err)
	}
}

func TestNetwork_UnboundTargetAndLinkDownAreSilent(t *testing.T) {
	n := NewNetwork()
	var server inbox
	srv, _ := n.Bind("server", server.recv, nil)
	defer srv.Close()
	cli, _ := n.Bind("client", nil, nil)
	defer cli.Close()

	if err := cli.Send("nowhere", []byte("lost")); err != nil {
		t.Fatalf("sending to an unbound address must not error, got %v", err)
	}

	n.SetLinkDown("client", true)
	_ = cli.Send("server", []byte("dropped"))
	n.SetLinkDown("client", false)
	_ = cli.Send("server", []byte("kept"))

	waitFor(t, time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 1
	})
	time.Sleep(10 * time.Millisecond)
	msgs, _ := server.snapshot()
	if len(msgs) != 1 || msgs[0] != "kept" {
		t.Fatalf("expected only the datagram sent while the link was up, got %v", msgs)
	}
}

func TestWithLatency_DelaysDropsAndDuplicates(t *testing.T) {
	n := NewNetwork()
	var server inbox
	srv, _ := n.Bind("server", server.recv, nil)
	defer srv.Close()

	latency := NewLatency(LatencySettings{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond})
	binder := WithLatency(n, latency, rand.New(rand.NewSource(1)))
	cli, err := binder.Bind("client", nil, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer cli.Close()

	start := time.Now()
	if err := cli.Send("server", []byte("slow")); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 1
	})
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected at least 20ms of simulated latency, got %s", elapsed)
	}

	latency.Update(LatencySettings{DropProb: 1})
	_ = cli.Send("server", []byte("drop"))

	latency.Update(LatencySettings{DupProb: 1})
	_ = cli.Send("server", []byte("dup"))
	waitFor(t, time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 3
	})
	msgs, _ := server.snapshot()
	if msgs[1] != "dup" || msgs[2] != "dup" {
		t.Fatalf("expected dropped datagram to vanish and duplicate to arrive twice, got %v", msgs)
	}
}

func TestWithLatency_CloseCancelsPendingSends(t *testing.T) {
	n := NewNetwork()
	var server inbox
	srv, _ := n.Bind("server", server.recv, nil)
	defer srv.Close()

	latency := NewLatency(LatencySettings{Min: 30 * time.Millisecond, Max: 30 * time.Millisecond})
	cli, _ := WithLatency(n, latency, nil).Bind("client", nil, nil)
	_ = cli.Send("server", []byte("pending"))
	if err := cli.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cli.Send("server", []byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if msgs, _ := server.snapshot(); len(msgs) != 0 {
		t.Fatalf("expected pending datagrams to be cancelled, got %v", msgs)
	}
}

func TestLatencySettings_Normalized(t *testing.T) {
	got := NewLatency(LatencySettings{Min: 50 * time.Millisecond, Max: 10 * time.Millisecond, DropProb: 3, DupProb: -1}).Settings()
	want := LatencySettings{Min: 50 * time.Millisecond, Max: 50 * time.Millisecond, DropProb: 1, DupProb: 0}
	if got != want {
		t.Fatalf("normalized settings = %+v, want %+v", got, want)
	}
}

func TestUDP_Loopback(t *testing.T) {
	var server inbox
	srv, err := UDP{}.Bind("127.0.0.1:0", server.recv, nil)
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer srv.Close()

	var client inbox
	cli, err := UDP{}.Bind("127.0.0.1:0", client.recv, nil)
	if err != nil {
		t.Fatalf("bind client: %v", err)
	}
	defer cli.Close()

	if err := cli.Send(srv.LocalAddr(), []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 1
	})
	_, from := server.snapshot()
	if err := srv.Send(from[0], []byte("pong")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := client.snapshot()
		return len(msgs) == 1 && msgs[0] == "pong"
	})
	_, replyFrom := client.snapshot()
	peer, err := ResolvePeer(cli, srv.LocalAddr())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if peer != replyFrom[0] {
		t.Fatalf("expected resolved peer %q to match sender %q", peer, replyFrom[0])
	}

	_ = cli.Close()
	if err := cli.Send(srv.LocalAddr(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	var server inbox
	srv, err := WebSocketServer{}.Bind("127.0.0.1:0", server.recv, nil)
	if err != nil {
		t.Skipf("tcp unavailable: %v", err)
	}
	defer srv.Close()

	var client inbox
	cli, err := WebSocketDialer{URL: "ws://" + srv.LocalAddr() + "/ws"}.Bind("", client.recv, func(error) {})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()

	if err := cli.Send("ignored", []byte(`{"type":3}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := server.snapshot()
		return len(msgs) == 1
	})
	_, from := server.snapshot()
	if err := srv.Send(from[0], []byte(`{"type":4}`)); err != nil {
		t.Fatalf("reply: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		msgs, _ := client.snapshot()
		return len(msgs) == 1 && msgs[0] == `{"type":4}`
	})
}

func TestResolvePeer_FallsBackToAddress(t *testing.T) {
	n := NewNetwork()
	ep, err := n.Bind("client", nil, nil)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer ep.Close()
	got, err := ResolvePeer(ep, "server")
	if err != nil || got != "server" {
		t.Fatalf("expected address unchanged, got %q, %v", got, err)
	}

	lat := WithLatency(n, NewLatency(DefaultLatencySettings()), rand.New(rand.NewSource(1)))
	wrapped, err := lat.Bind("client-2", nil, nil)
	if err != nil {
		t.Fatalf("bind wrapped: %v", err)
	}
	defer wrapped.Close()
	if got, err := ResolvePeer(wrapped, "server"); err != nil || got != "server" {
		t.Fatalf("expected wrapped endpoint to defer to the inner one, got %q, %v", got, err)
	}
}
