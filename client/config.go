package client

import (
	"time"

	"playersync/protocol"
)

// Config 客户端会话参数；数值字段为零或负数时取 DefaultConfig 的值
type Config struct {
	ServerAddr string // 服务端地址，作为每个数据报的目的地址
	LocalAddr  string // 本地绑定地址；为空由传输层自动分配
	PlayerID   string // 预先持久化的玩家 id；为空表示首次接触，由服务端分配
	Version    string // 登录时携带的协议版本

	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	MoveInterval         time.Duration // 两次移动上报的最小间隔
	LoginTimeout         time.Duration // 发出 LOGIN 后等待回复的时长
	LivenessTimeout      time.Duration // 超过该时长未收到任何数据报视为失联
	MaxDecodeErrors      int           // 连续解码失败达到该次数视为连接错误
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		ServerAddr:           "127.0.0.1:8888",
		Version:              protocol.Version,
		HeartbeatInterval:    5 * time.Second,
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 5,
		MoveInterval:         100 * time.Millisecond,
		LoginTimeout:         5 * time.Second,
		LivenessTimeout:      15 * time.Second,
		MaxDecodeErrors:      3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.MoveInterval <= 0 {
		c.MoveInterval = d.MoveInterval
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = d.LoginTimeout
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.MaxDecodeErrors <= 0 {
		c.MaxDecodeErrors = d.MaxDecodeErrors
	}
	return c
}
