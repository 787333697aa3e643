package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const memInboxSize = 1024

// Network 进程内数据报网络，用于测试与本地联调。
// 每个端点有独立的收件队列与投递协程；队列满或目标不存在时静默丢弃。
type Network struct {
	mu        sync.RWMutex
	endpoints map[string]*memEndpoint
	down      map[string]bool
	nextID    atomic.Uint64
}

// NewNetwork 创建空网络
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*memEndpoint),
		down:      make(map[string]bool),
	}
}

// Bind addr 为空时自动分配 mem-N 地址
func (n *Network) Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	if addr == "" {
		addr = fmt.Sprintf("mem-%d", n.nextID.Add(1))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("transport: bind %s: address already in use", addr)
	}
	ep := &memEndpoint{
		net:   n,
		addr:  addr,
		recv:  recv,
		inbox: make(chan memDatagram, memInboxSize),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = ep
	go ep.deliverLoop()
	return ep, nil
}

// SetLinkDown 断开/恢复某地址的链路：断开期间收发的数据报全部丢失
func (n *Network) SetLinkDown(addr string, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if down {
		n.down[addr] = true
	} else {
		delete(n.down, addr)
	}
}

// Bound 报告地址当前是否有端点
func (n *Network) Bound(addr string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.endpoints[addr]
	return ok
}

func (n *Network) route(from, to string, payload []byte) {
	n.mu.RLock()
	target, ok := n.endpoints[to]
	lost := n.down[from] || n.down[to]
	n.mu.RUnlock()
	if !ok || lost {
		return
	}
	target.enqueue(memDatagram{from: from, payload: payload})
}

func (n *Network) unbind(ep *memEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.endpoints[ep.addr]; ok && cur == ep {
		delete(n.endpoints, ep.addr)
	}
}

type memDatagram struct {
	from    string
	payload []byte
}

type memEndpoint struct {
	net       *Network
	addr      string
	recv      Receiver
	inbox     chan memDatagram
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func (e *memEndpoint) Send(to string, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	e.net.route(e.addr, to, buf)
	return nil
}

func (e *memEndpoint) LocalAddr() string { return e.addr }

func (e *memEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.net.unbind(e)
		close(e.done)
	})
	return nil
}

func (e *memEndpoint) enqueue(d memDatagram) {
	if e.closed.Load() {
		return
	}
	select {
	case e.inbox <- d:
	default:
		// 队列满：与真实网络一样直接丢弃
	}
}

func (e *memEndpoint) deliverLoop() {
	for {
		select {
		case <-e.done:
			return
		case d := <-e.inbox:
			if e.closed.Load() {
				return
			}
			if e.recv != nil {
				e.recv(d.from, d.payload)
			}
		}
	}
}
