package server

import (
	"sync/atomic"
)

// Metrics 记录会话表运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount        int64 // 广播 Tick 次数
	TotalTickNs      int64 // 广播累计耗时（纳秒）
	LoginsCreated    int64 // 新建玩家的登录
	LoginsRebound    int64 // 同 id 重新绑定的登录
	LoginsRejected   int64 // 因版本或容量被拒的登录
	Heartbeats       int64 // 已确认的心跳
	MovesApplied     int64 // 已应用的移动
	MovesClamped     int64 // 越界被裁剪的移动
	ActionsApplied   int64 // 已处理的动作
	ActionsUnknown   int64 // 未知动作类型
	ActionsDuplicate int64 // 重复投递被丢弃的动作
	UnknownSession   int64 // 未知会话的消息（静默丢弃）
	DecodeErrors     int64 // 解码失败的数据报
	Unexpected       int64 // 方向错误的消息（服务端 → 客户端类型）
	SendErrors       int64 // 发送失败
	SessionsEvicted  int64 // 心跳超时被清理的会话
	PlayersExpired   int64 // 离线超过保留期被删除的玩家
}

func (m *Metrics) IncLoginsCreated()    { atomic.AddInt64(&m.LoginsCreated, 1) }
func (m *Metrics) IncLoginsRebound()    { atomic.AddInt64(&m.LoginsRebound, 1) }
func (m *Metrics) IncLoginsRejected()   { atomic.AddInt64(&m.LoginsRejected, 1) }
func (m *Metrics) IncHeartbeats()       { atomic.AddInt64(&m.Heartbeats, 1) }
func (m *Metrics) IncMovesApplied()     { atomic.AddInt64(&m.MovesApplied, 1) }
func (m *Metrics) IncMovesClamped()     { atomic.AddInt64(&m.MovesClamped, 1) }
func (m *Metrics) IncActionsApplied()   { atomic.AddInt64(&m.ActionsApplied, 1) }
func (m *Metrics) IncActionsUnknown()   { atomic.AddInt64(&m.ActionsUnknown, 1) }
func (m *Metrics) IncActionsDuplicate() { atomic.AddInt64(&m.ActionsDuplicate, 1) }
func (m *Metrics) IncUnknownSession()   { atomic.AddInt64(&m.UnknownSession, 1) }
func (m *Metrics) IncDecodeErrors()     { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncUnexpected()       { atomic.AddInt64(&m.Unexpected, 1) }
func (m *Metrics) IncSendErrors()       { atomic.AddInt64(&m.SendErrors, 1) }
func (m *Metrics) AddSessionsEvicted(n int) {
	atomic.AddInt64(&m.SessionsEvicted, int64(n))
}
func (m *Metrics) AddPlayersExpired(n int) {
	atomic.AddInt64(&m.PlayersExpired, int64(n))
}
func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
		"logins_created":    atomic.LoadInt64(&m.LoginsCreated),
		"logins_rebound":    atomic.LoadInt64(&m.LoginsRebound),
		"logins_rejected":   atomic.LoadInt64(&m.LoginsRejected),
		"heartbeats":        atomic.LoadInt64(&m.Heartbeats),
		"moves_applied":     atomic.LoadInt64(&m.MovesApplied),
		"moves_clamped":     atomic.LoadInt64(&m.MovesClamped),
		"actions_applied":   atomic.LoadInt64(&m.ActionsApplied),
		"actions_unknown":   atomic.LoadInt64(&m.ActionsUnknown),
		"actions_duplicate": atomic.LoadInt64(&m.ActionsDuplicate),
		"unknown_session":   atomic.LoadInt64(&m.UnknownSession),
		"decode_errors":     atomic.LoadInt64(&m.DecodeErrors),
		"unexpected":        atomic.LoadInt64(&m.Unexpected),
		"send_errors":       atomic.LoadInt64(&m.SendErrors),
		"sessions_evicted":  atomic.LoadInt64(&m.SessionsEvicted),
		"players_expired":   atomic.LoadInt64(&m.PlayersExpired),
	}
}
