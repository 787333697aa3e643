package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"playersync/logging"
	"playersync/protocol"
)

// Outbound 待发送的一条消息；会话表只产出回复，由 Server 负责编码与发送
type Outbound struct {
	To  string
	Msg protocol.Message
}

// Table 权威会话表：唯一的 PlayerState 写入方。
// 所有变更与广播快照都在同一把表锁内完成，广播不会看到半更新的状态。
type Table struct {
	mu deadlock.Mutex

	cfg     Config
	log     *zap.SugaredLogger
	metrics *Metrics
	slots   *semaphore.Weighted
	newID   func() string

	players  map[string]*player  // playerId → 记录
	sessions map[string]*session // sessionKey → 绑定
}

// TableOption 可选依赖
type TableOption func(*Table)

// WithLogger 注入日志
func WithLogger(log *zap.SugaredLogger) TableOption {
	return func(t *Table) { t.log = logging.OrNop(log) }
}

// WithMetrics 注入指标（与 Server/管理接口共享）
func WithMetrics(m *Metrics) TableOption {
	return func(t *Table) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithIDGenerator 替换首次登录时的玩家 id 生成器
func WithIDGenerator(gen func() string) TableOption {
	return func(t *Table) {
		if gen != nil {
			t.newID = gen
		}
	}
}

// NewTable 创建会话表
func NewTable(cfg Config, opts ...TableOption) *Table {
	cfg = cfg.withDefaults()
	t := &Table{
		cfg:      cfg,
		log:      logging.Nop(),
		metrics:  &Metrics{},
		slots:    semaphore.NewWeighted(cfg.MaxSessions),
		newID:    func() string { return "player_" + uuid.NewString() },
		players:  make(map[string]*player),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Metrics 返回会话表使用的指标
func (t *Table) Metrics() *Metrics { return t.metrics }

// HandleLogin 未见过的 playerId 新建状态；见过的则重新绑定到原有状态（不重置）
func (t *Table) HandleLogin(key string, msg *protocol.Login, now time.Time) []Outbound {
	if !protocol.CompatibleVersion(msg.Version) {
		t.metrics.IncLoginsRejected()
		t.log.Warnw("login rejected: incompatible version", "session", key, "version", msg.Version)
		return reject(key, msg.PlayerID, fmt.Sprintf("unsupported protocol version %q", msg.Version), now)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := msg.PlayerID
	if id == "" {
		id = t.newID()
	}

	if s, ok := t.sessions[key]; ok {
		if s.playerID != id {
			// 同一地址换了玩家：旧玩家转为离线，会话槽位复用
			t.detachLocked(s, now)
			if p, ok := t.players[id]; ok && p.sessionKey != "" && p.sessionKey != key {
				// 新玩家还绑在别的地址上：那条会话作废并归还槽位
				delete(t.sessions, p.sessionKey)
				t.slots.Release(1)
				t.log.Infow("stale session dropped", "session", p.sessionKey, "player", id)
			}
			s.playerID = id
			s.recentActions = nil
			s.nextAction = 0
		}
		s.lastHeartbeatAt = now
	} else {
		if p, ok := t.players[id]; ok && p.sessionKey != "" {
			// 同一玩家从新地址登录：旧绑定作废，槽位直接转给新地址
			delete(t.sessions, p.sessionKey)
		} else if !t.slots.TryAcquire(1) {
			t.metrics.IncLoginsRejected()
			t.log.Warnw("login rejected: server full", "session", key, "player", id)
			return reject(key, msg.PlayerID, "server full", now)
		}
		t.sessions[key] = &session{key: key, playerID: id, createdAt: now, lastHeartbeatAt: now}
	}

	p, seen := t.players[id]
	if seen {
		t.metrics.IncLoginsRebound()
		t.log.Infow("player rebound", "session", key, "player", id)
	} else {
		p = newPlayer(id)
		t.players[id] = p
		t.metrics.IncLoginsCreated()
		t.log.Infow("player created", "session", key, "player", id)
	}
	p.sessionKey = key
	p.offlineSince = time.Time{}

	state := p.snapshot(now)
	return []Outbound{{To: key, Msg: &protocol.LoginResponse{
		Success:     true,
		PlayerID:    id,
		PlayerState: &state,
		Timestamp:   now.UnixMilli(),
	}}}
}

func reject(key, playerID, reason string, now time.Time) []Outbound {
	return []Outbound{{To: key, Msg: &protocol.LoginResponse{
		Success:   false,
		PlayerID:  playerID,
		Error:     reason,
		Timestamp: now.UnixMilli(),
	}}}
}

// HandleHeartbeat 更新存活时间并回复；未知会话静默丢弃，客户端会走重连重新登录
func (t *Table) HandleHeartbeat(key string, msg *protocol.Heartbeat, now time.Time) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		t.metrics.IncUnknownSession()
		return nil
	}
	s.lastHeartbeatAt = now
	t.metrics.IncHeartbeats()
	return []Outbound{{To: key, Msg: &protocol.HeartbeatResponse{
		Timestamp:  now.UnixMilli(),
		ClientTime: msg.Timestamp,
	}}}
}

// HandlePlayerMove 覆盖位置与速度，再把位置裁剪进世界边界；结果随下一次广播下发
func (t *Table) HandlePlayerMove(key string, msg *protocol.PlayerMove, now time.Time) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.playerForLocked(key)
	if !ok {
		t.metrics.IncUnknownSession()
		return nil
	}
	var requested protocol.Vec2
	if msg.Position != nil {
		requested = *msg.Position
	}
	clamped := requested.ClampToWorld()
	if clamped != requested {
		t.metrics.IncMovesClamped()
	}
	p.state.Position = clamped
	p.state.Velocity = msg.Velocity.Finite()
	t.metrics.IncMovesApplied()
	return nil
}

// Tick 广播一帧：每个在线会话收到自己的完整状态；到点时附带全局名单
func (t *Table) Tick(now time.Time) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Outbound, 0, len(t.sessions)*2)
	for key, s := range t.sessions {
		p, ok := t.players[s.playerID]
		if !ok {
			continue
		}
		out = append(out, Outbound{To: key, Msg: &protocol.PlayerStateUpdate{
			PlayerState: p.snapshot(now),
			Timestamp:   now.UnixMilli(),
		}})
	}

	if t.rosterDue(now) {
		roster := t.rosterLocked()
		for key := range t.sessions {
			out = append(out, Outbound{To: key, Msg: &protocol.GameState{
				Players:   roster,
				GameTime:  now.UnixMilli(),
				Timestamp: now.UnixMilli(),
			}})
		}
	}
	return out
}

// rosterDue 按墙钟取模判断：每个 RosterInterval 的开头一个广播周期内为真
func (t *Table) rosterDue(now time.Time) bool {
	every := t.cfg.RosterInterval.Milliseconds()
	window := t.cfg.BroadcastInterval.Milliseconds()
	if every <= 0 {
		return false
	}
	return now.UnixMilli()%every < window
}

// Roster 当前在线玩家的 id 与位置（按 id 排序）
func (t *Table) Roster() []protocol.RosterEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked()
}

func (t *Table) rosterLocked() []protocol.RosterEntry {
	roster := make([]protocol.RosterEntry, 0, len(t.sessions))
	for _, s := range t.sessions {
		if p, ok := t.players[s.playerID]; ok {
			roster = append(roster, protocol.RosterEntry{PlayerID: s.playerID, Position: p.state.Position})
		}
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].PlayerID < roster[j].PlayerID })
	return roster
}

// Reap 清理心跳超时的会话，并删除离线超过保留期的玩家；返回被清理的会话 key
func (t *Table) Reap(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for key, s := range t.sessions {
		if now.Sub(s.lastHeartbeatAt) <= t.cfg.StaleAfter {
			continue
		}
		t.detachLocked(s, now)
		delete(t.sessions, key)
		t.slots.Release(1)
		evicted = append(evicted, key)
		t.log.Infow("session evicted due to heartbeat timeout", "session", key, "player", s.playerID,
			"lastHeartbeat", s.lastHeartbeatAt)
	}

	expired := 0
	for id, p := range t.players {
		if p.sessionKey == "" && now.Sub(p.offlineSince) > t.cfg.PlayerRetention {
			delete(t.players, id)
			expired++
		}
	}

	t.metrics.AddSessionsEvicted(len(evicted))
	t.metrics.AddPlayersExpired(expired)
	sort.Strings(evicted)
	return evicted
}

// ShutdownNotices 为所有在线会话生成关服通知
func (t *Table) ShutdownNotices(now time.Time) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Outbound, 0, len(t.sessions))
	for key := range t.sessions {
		out = append(out, Outbound{To: key, Msg: &protocol.Error{Error: "server shutting down", Timestamp: now.UnixMilli()}})
	}
	return out
}

// SessionInfo 诊断接口输出
type SessionInfo struct {
	SessionKey    string        `json:"session"`
	PlayerID      string        `json:"playerId"`
	LastHeartbeat int64         `json:"lastHeartbeat"`
	ConnectedFor  string        `json:"connectedFor"`
	Health        int           `json:"health"`
	Position      protocol.Vec2 `json:"position"`
}

// Sessions 在线会话列表（按玩家 id 排序）
func (t *Table) Sessions(now time.Time) []SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	infos := make([]SessionInfo, 0, len(t.sessions))
	for key, s := range t.sessions {
		info := SessionInfo{
			SessionKey:    key,
			PlayerID:      s.playerID,
			LastHeartbeat: s.lastHeartbeatAt.UnixMilli(),
			ConnectedFor:  now.Sub(s.createdAt).Truncate(time.Second).String(),
		}
		if p, ok := t.players[s.playerID]; ok {
			info.Health = p.state.Health
			info.Position = p.state.Position
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].PlayerID < infos[j].PlayerID })
	return infos
}

// Player 读取某玩家的状态快照（无论在线与否）
func (t *Table) Player(id string, now time.Time) (protocol.PlayerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.players[id]
	if !ok {
		return protocol.PlayerState{}, false
	}
	return p.snapshot(now), true
}

// SessionCount 在线会话数
func (t *Table) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Table) playerForLocked(key string) (*player, bool) {
	s, ok := t.sessions[key]
	if !ok {
		return nil, false
	}
	p, ok := t.players[s.playerID]
	return p, ok
}

// detachLocked 解除会话与玩家的绑定，玩家进入离线保留期
func (t *Table) detachLocked(s *session, now time.Time) {
	if p, ok := t.players[s.playerID]; ok && p.sessionKey == s.key {
		p.sessionKey = ""
		p.offlineSince = now
	}
}
