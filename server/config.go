package server

import "time"

// Config 会话表与广播循环的运行参数
type Config struct {
	Addr              string        // 传输层监听地址
	BroadcastInterval time.Duration // 每个会话推送完整状态的周期
	RosterInterval    time.Duration // 全局名单快照周期（按时间取模，不是独立定时器）
	ReapInterval      time.Duration // 清理过期会话的周期
	StaleAfter        time.Duration // 超过该时长无心跳即视为失联
	PlayerRetention   time.Duration // 离线玩家状态保留时长，期间同 id 登录可重新绑定
	MaxSessions       int64         // 同时在线会话上限
	ActionDedupWindow int           // 每个会话记住最近多少个动作指纹用于去重
}

// DefaultConfig 默认参数：100ms 广播，5s 名单，心跳 5s 的 3 倍视为失联
func DefaultConfig() Config {
	return Config{
		Addr:              ":8888",
		BroadcastInterval: 100 * time.Millisecond,
		RosterInterval:    5 * time.Second,
		ReapInterval:      5 * time.Second,
		StaleAfter:        15 * time.Second,
		PlayerRetention:   10 * time.Minute,
		MaxSessions:       10000,
		ActionDedupWindow: 32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = d.BroadcastInterval
	}
	if c.RosterInterval <= 0 {
		c.RosterInterval = d.RosterInterval
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.PlayerRetention <= 0 {
		c.PlayerRetention = d.PlayerRetention
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.ActionDedupWindow < 0 {
		c.ActionDedupWindow = 0
	}
	return c
}
