package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 5 * time.Second
	wsReadLimit   = 1 << 20 // 1MB
	wsSendBacklog = 64
)

// WebSocketServer 以 WebSocket 承载数据报：每条文本消息即一个数据报，
// 连接的远端地址作为发送方地址。用于浏览器等无法直接收发 UDP 的客户端。
type WebSocketServer struct {
	Path string // 默认 /ws
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// Bind 在 addr 上启动 HTTP 服务并接受 WebSocket 升级
func (s WebSocketServer) Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	path := s.Path
	if path == "" {
		path = "/ws"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket listen %s: %w", addr, err)
	}

	ep := &wsServerEndpoint{
		ln:    ln,
		conns: make(map[string]*wsConn),
		recv:  recv,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, ep.handleWS)
	ep.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := ep.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && onErr != nil {
			onErr(fmt.Errorf("transport: websocket serve: %w", err))
		}
	}()
	return ep, nil
}

type wsServerEndpoint struct {
	ln     net.Listener
	srv    *http.Server
	recv   Receiver
	closed atomic.Bool

	mu    sync.Mutex
	conns map[string]*wsConn
}

func (e *wsServerEndpoint) handleWS(w http.ResponseWriter, r *http.Request) {
	if e.closed.Load() {
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(ws)
	addr := ws.RemoteAddr().String()

	e.mu.Lock()
	if prev, ok := e.conns[addr]; ok {
		prev.Close()
	}
	e.conns[addr] = c
	e.mu.Unlock()

	go c.writePump()
	go func() {
		c.readPump(addr, e.recv)
		e.mu.Lock()
		if cur, ok := e.conns[addr]; ok && cur == c {
			delete(e.conns, addr)
		}
		e.mu.Unlock()
		c.Close()
	}()
}

// Send 找不到连接时按数据报语义静默丢弃
func (e *wsServerEndpoint) Send(to string, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.Lock()
	c, ok := e.conns[to]
	e.mu.Unlock()
	if ok {
		c.Enqueue(payload)
	}
	return nil
}

func (e *wsServerEndpoint) LocalAddr() string { return e.ln.Addr().String() }

func (e *wsServerEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	for addr, c := range e.conns {
		c.Close()
		delete(e.conns, addr)
	}
	e.mu.Unlock()
	return e.srv.Close()
}

// wsConn 负责发送（写）数据到对端的轻量包装
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, wsSendBacklog),
		done: make(chan struct{}),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *wsConn) Enqueue(b []byte) {
	buf := make([]byte, len(b))
	copy(buf, b)
	select {
	case <-c.done:
	case c.send <- buf:
	default:
		// 为了实时性丢弃，防止阻塞广播
	}
}

// Close 关闭底层连接并结束写协程
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *wsConn) writePump() {
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// readPump 读取对端消息，逐条作为数据报交给 recv
func (c *wsConn) readPump(from string, recv Receiver) {
	c.ws.SetReadLimit(wsReadLimit)
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if recv != nil {
			recv(from, payload)
		}
	}
}

// WebSocketDialer 客户端侧：Bind 即拨号，Send 忽略目标地址，始终发往服务端
type WebSocketDialer struct {
	URL string // 例如 ws://127.0.0.1:8888/ws
}

func (d WebSocketDialer) Bind(_ string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 5 * time.Second,
	}
	ws, _, err := dialer.Dial(d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial %s: %w", d.URL, err)
	}
	ep := &wsClientEndpoint{ws: ws, url: d.URL}
	go ep.readLoop(recv, onErr)
	return ep, nil
}

type wsClientEndpoint struct {
	ws     *websocket.Conn
	url    string
	closed atomic.Bool
	mu     sync.Mutex // gorilla 连接不支持并发写
}

func (e *wsClientEndpoint) Send(_ string, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := e.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: websocket send: %w", err)
	}
	return nil
}

func (e *wsClientEndpoint) LocalAddr() string { return e.ws.LocalAddr().String() }

func (e *wsClientEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	_ = e.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	e.mu.Unlock()
	return e.ws.Close()
}

// Resolve 拨号端点只有一个对端，所有数据报都以 URL 作为来源
func (e *wsClientEndpoint) Resolve(string) (string, error) { return e.url, nil }

func (e *wsClientEndpoint) readLoop(recv Receiver, onErr ErrorHandler) {
	e.ws.SetReadLimit(wsReadLimit)
	for {
		_, payload, err := e.ws.ReadMessage()
		if err != nil {
			if !e.closed.Load() && onErr != nil {
				onErr(fmt.Errorf("transport: websocket receive: %w", err))
			}
			return
		}
		if recv != nil {
			recv(e.url, payload)
		}
	}
}
