package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// maxDatagram UDP 载荷上限
const maxDatagram = 64 * 1024

// UDP 基于 net.PacketConn 的数据报传输
type UDP struct{}

// Bind 监听 addr（例如 ":8888"；客户端可传 ":0" 由系统分配端口）
func (UDP) Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: udp bind %s: %w", addr, err)
	}
	ep := &udpEndpoint{conn: conn, resolved: make(map[string]net.Addr)}
	go ep.readLoop(recv, onErr)
	return ep, nil
}

type udpEndpoint struct {
	conn   net.PacketConn
	closed atomic.Bool

	mu       sync.Mutex
	resolved map[string]net.Addr
}

func (e *udpEndpoint) Send(to string, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	addr, err := e.resolve(to)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteTo(payload, addr); err != nil {
		return fmt.Errorf("transport: udp send to %s: %w", to, err)
	}
	return nil
}

func (e *udpEndpoint) resolve(to string) (net.Addr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr, ok := e.resolved[to]; ok {
		return addr, nil
	}
	addr, err := net.ResolveUDPAddr("udp", to)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", to, err)
	}
	e.resolved[to] = addr
	return addr, nil
}

// Resolve 返回 to 解析后的 ip:port，与 readLoop 报告的 from 一致
func (e *udpEndpoint) Resolve(to string) (string, error) {
	addr, err := e.resolve(to)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func (e *udpEndpoint) LocalAddr() string { return e.conn.LocalAddr().String() }

func (e *udpEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.conn.Close()
}

func (e *udpEndpoint) readLoop(recv Receiver, onErr ErrorHandler) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFrom(buf)
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if onErr != nil {
				onErr(fmt.Errorf("transport: udp receive: %w", err))
			}
			continue
		}
		if recv == nil {
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		recv(from.String(), payload)
	}
}
