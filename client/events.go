package client

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"

	"playersync/protocol"
)

// Event 会话对外发布的事件
type Event int

const (
	EventLoginSuccess      Event = iota + 1 // *protocol.LoginResponse
	EventLoginFailed                        // *protocol.LoginResponse
	EventPlayerStateUpdate                  // *protocol.PlayerStateUpdate
	EventGameStateUpdate                    // *protocol.GameState
	EventConnectionLost                     // nil
	EventError                              // *protocol.Error（服务端下发或本地解码失败）
	EventHeartbeat                          // *protocol.HeartbeatResponse
)

func (e Event) String() string {
	switch e {
	case EventLoginSuccess:
		return "loginSuccess"
	case EventLoginFailed:
		return "loginFailed"
	case EventPlayerStateUpdate:
		return "playerStateUpdate"
	case EventGameStateUpdate:
		return "gameStateUpdate"
	case EventConnectionLost:
		return "connectionLost"
	case EventError:
		return "error"
	case EventHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Handler 事件回调；msg 的具体类型见 Event 常量旁的注释
type Handler func(msg protocol.Message)

// dispatcher 按注册顺序同步调用回调。
// 回调在拷贝出的列表上执行，不持有任何锁，回调里可以再注册或调用会话方法。
type dispatcher struct {
	mu       deadlock.RWMutex
	handlers map[Event][]Handler
}

func (d *dispatcher) on(ev Event, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[Event][]Handler)
	}
	d.handlers[ev] = append(d.handlers[ev], h)
}

func (d *dispatcher) emit(ev Event, msg protocol.Message) {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[ev]...)
	d.mu.RUnlock()
	for _, h := range hs {
		h(msg)
	}
}

// emission 锁内收集、锁外发布的事件
type emission struct {
	ev  Event
	msg protocol.Message
}
