// Package transport 定义不可靠数据报传输的抽象：不保证送达、顺序或去重。
// 客户端与服务端只依赖 Binder/Endpoint，具体实现可以是 UDP、WebSocket、
// 进程内网络，或叠加了模拟延迟的任意实现。
package transport

import "errors"

// ErrClosed 在已关闭的端点上发送
var ErrClosed = errors.New("transport: endpoint closed")

// Receiver 收到一个数据报时回调；payload 归回调方所有
type Receiver func(from string, payload []byte)

// ErrorHandler 接收循环遇到的传输层错误（关闭之后的错误不会上报）
type ErrorHandler func(err error)

// Endpoint 已绑定的本地端点
type Endpoint interface {
	// Send 发出一个数据报，不等待确认
	Send(to string, payload []byte) error
	LocalAddr() string
	Close() error
}

// Binder 绑定本地端点并开始接收
type Binder interface {
	Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error)
}

// BinderFunc 函数适配器
type BinderFunc func(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error)

func (f BinderFunc) Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	return f(addr, recv, onErr)
}

// Resolver 可选：把地址规范成该端点在 Receiver 中报告 from 时使用的形式
type Resolver interface {
	Resolve(addr string) (string, error)
}

// ResolvePeer 返回 addr 作为数据报来源时的写法；端点未实现 Resolver 时原样返回
func ResolvePeer(ep Endpoint, addr string) (string, error) {
	if r, ok := ep.(Resolver); ok {
		return r.Resolve(addr)
	}
	return addr, nil
}
