// Package client 实现玩家侧会话：登录、心跳、移动节流、动作上报，
// 以及连接出错后的有限次自动重连。所有网络与定时回调都串行经过会话锁，
// 事件回调在锁外按注册顺序同步执行。
package client

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"playersync/logging"
	"playersync/protocol"
	"playersync/transport"
)

// State 连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotConnected 未处于 connected 状态时发送动作
	ErrNotConnected = errors.New("client: not connected")

	errLoginTimeout   = errors.New("client: login timed out")
	errLivenessLost   = errors.New("client: no datagram from server within liveness timeout")
	errDecodeFailures = errors.New("client: too many consecutive undecodable datagrams")
)

// Prediction 本地预测的位置与速度（最近一次成功上报的移动）
type Prediction struct {
	Position protocol.Vec2
	Velocity protocol.Vec2
}

// Option 可选依赖
type Option func(*Session)

// WithLogger 注入日志
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = logging.OrNop(log) }
}

// WithClock 替换时钟（移动节流、存活检测、RTT 都以它为准）
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session 客户端会话
type Session struct {
	cfg    Config
	binder transport.Binder
	log    *zap.SugaredLogger
	now    func() time.Time
	events dispatcher

	mu deadlock.Mutex
	// epoch 每次建立或拆除端点时递增；定时器与接收回调捕获创建时的值，
	// 不一致即说明回调已过期，直接丢弃
	epoch             uint64
	state             State
	ep                transport.Endpoint
	playerID          string
	reconnectAttempts int

	heartbeatTimer *time.Timer
	loginTimer     *time.Timer
	retryTimer     *time.Timer

	lastRecvAt       time.Time
	lastMoveAt       time.Time
	lastStamp        int64
	lastHeartbeatAck time.Time
	rtt              time.Duration
	decodeErrors     int

	playerState *protocol.PlayerState
	predicted   Prediction
}

// New 创建会话；不会立即连接
func New(cfg Config, binder transport.Binder, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:      cfg,
		binder:   binder,
		log:      logging.Nop(),
		now:      time.Now,
		playerID: cfg.PlayerID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On 注册事件回调，按注册顺序调用
func (s *Session) On(ev Event, h Handler) {
	s.events.on(ev, h)
}

// Connect 绑定端点并发送 LOGIN。已在连接中或已连接时什么都不做。
// 绑定或发送失败时进入 failed 并返回错误，不会自动重试。
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	// 重连计数只在登录成功时清零
	err := s.connectLocked()
	if err != nil {
		s.teardownLocked()
		s.state = StateFailed
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Errorw("connect failed", "server", s.cfg.ServerAddr, "error", err)
		return err
	}
	return nil
}

// connectLocked 建立新端点并发出 LOGIN，成功后进入 connecting
func (s *Session) connectLocked() error {
	s.teardownLocked()
	s.state = StateConnecting
	epoch := s.epoch

	var peer atomic.Pointer[string]
	ep, err := s.binder.Bind(s.cfg.LocalAddr,
		func(from string, payload []byte) {
			if want := peer.Load(); want == nil || from != *want {
				s.log.Debugw("datagram from unexpected sender dropped", "from", from)
				return
			}
			s.onDatagram(epoch, payload)
		},
		func(err error) { s.onTransportError(epoch, err) },
	)
	if err != nil {
		return fmt.Errorf("client: bind: %w", err)
	}
	serverAddr, err := transport.ResolvePeer(ep, s.cfg.ServerAddr)
	if err != nil {
		_ = ep.Close()
		return fmt.Errorf("client: %w", err)
	}
	peer.Store(&serverAddr)
	s.ep = ep
	s.decodeErrors = 0
	s.lastRecvAt = s.now()

	login := &protocol.Login{PlayerID: s.playerID, Timestamp: s.stampLocked(), Version: s.cfg.Version}
	if err := s.sendLocked(login); err != nil {
		return err
	}
	s.loginTimer = time.AfterFunc(s.cfg.LoginTimeout, func() { s.onLoginTimeout(epoch) })
	s.log.Infow("login sent", "server", s.cfg.ServerAddr, "player", s.playerID, "local", ep.LocalAddr())
	return nil
}

// Disconnect 取消全部定时任务并关闭端点；可重复调用
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected && s.ep == nil {
		return
	}
	s.teardownLocked()
	s.state = StateDisconnected
	s.log.Info("disconnected from server")
}

// teardownLocked 使所有在途回调过期，停止定时器并关闭端点
func (s *Session) teardownLocked() {
	s.epoch++
	for _, t := range []*time.Timer{s.heartbeatTimer, s.loginTimer, s.retryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.heartbeatTimer, s.loginTimer, s.retryTimer = nil, nil, nil
	if s.ep != nil {
		_ = s.ep.Close()
		s.ep = nil
	}
}

// handleConnectionErrorLocked 连接出错后的统一处理：
// 未达上限则计数加一并在 ReconnectDelay 后重试，否则进入 failed 并发布一次 connectionLost
func (s *Session) handleConnectionErrorLocked(cause error) []emission {
	if s.state != StateConnected && s.state != StateConnecting {
		return nil
	}
	s.teardownLocked()

	if s.reconnectAttempts < s.cfg.MaxReconnectAttempts {
		s.reconnectAttempts++
		s.state = StateConnecting
		epoch := s.epoch
		s.retryTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() { s.retry(epoch) })
		s.log.Warnw("connection error, reconnecting",
			"attempt", s.reconnectAttempts, "max", s.cfg.MaxReconnectAttempts, "error", cause)
		return nil
	}

	s.state = StateFailed
	s.log.Errorw("max reconnect attempts reached, giving up", "attempts", s.reconnectAttempts, "error", cause)
	return []emission{{ev: EventConnectionLost}}
}

func (s *Session) retry(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	var evs []emission
	if err := s.connectLocked(); err != nil {
		evs = s.handleConnectionErrorLocked(err)
	}
	s.mu.Unlock()
	s.fire(evs)
}

func (s *Session) onLoginTimeout(epoch uint64) {
	s.mu.Lock()
	var evs []emission
	if epoch == s.epoch && s.state == StateConnecting {
		evs = s.handleConnectionErrorLocked(errLoginTimeout)
	}
	s.mu.Unlock()
	s.fire(evs)
}

func (s *Session) onTransportError(epoch uint64, err error) {
	s.mu.Lock()
	var evs []emission
	if epoch == s.epoch {
		evs = s.handleConnectionErrorLocked(fmt.Errorf("client: transport: %w", err))
	}
	s.mu.Unlock()
	s.fire(evs)
}

// scheduleHeartbeatLocked 一次性定时器，每次触发后重新调度
func (s *Session) scheduleHeartbeatLocked() {
	epoch := s.epoch
	s.heartbeatTimer = time.AfterFunc(s.cfg.HeartbeatInterval, func() { s.heartbeat(epoch) })
}

func (s *Session) heartbeat(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	var evs []emission
	if s.now().Sub(s.lastRecvAt) > s.cfg.LivenessTimeout {
		evs = s.handleConnectionErrorLocked(errLivenessLost)
	} else if err := s.sendLocked(&protocol.Heartbeat{PlayerID: s.playerID, Timestamp: s.stampLocked()}); err != nil {
		evs = s.handleConnectionErrorLocked(err)
	} else {
		s.scheduleHeartbeatLocked()
	}
	s.mu.Unlock()
	s.fire(evs)
}

// onDatagram 入站数据报：解码在锁外，状态变更在锁内，事件在锁外发布
func (s *Session) onDatagram(epoch uint64, payload []byte) {
	msg, decodeErr := protocol.Decode(payload)

	s.mu.Lock()
	if epoch != s.epoch || s.ep == nil {
		s.mu.Unlock()
		return
	}
	var evs []emission
	if decodeErr != nil {
		s.decodeErrors++
		s.log.Warnw("failed to decode datagram", "error", decodeErr, "consecutive", s.decodeErrors)
		evs = append(evs, emission{ev: EventError, msg: &protocol.Error{Error: decodeErr.Error(), Timestamp: s.now().UnixMilli()}})
		if s.decodeErrors >= s.cfg.MaxDecodeErrors {
			evs = append(evs, s.handleConnectionErrorLocked(errDecodeFailures)...)
		}
	} else {
		s.decodeErrors = 0
		s.lastRecvAt = s.now()
		evs = s.handleMessageLocked(msg)
	}
	s.mu.Unlock()
	s.fire(evs)
}

func (s *Session) handleMessageLocked(msg protocol.Message) []emission {
	switch m := msg.(type) {
	case *protocol.LoginResponse:
		return s.handleLoginResponseLocked(m)
	case *protocol.HeartbeatResponse:
		now := s.now()
		s.lastHeartbeatAck = now
		if m.ClientTime > 0 {
			if rtt := now.Sub(time.UnixMilli(m.ClientTime)); rtt >= 0 {
				s.rtt = rtt
			}
		}
		return []emission{{ev: EventHeartbeat, msg: m}}
	case *protocol.PlayerStateUpdate:
		// 整体覆盖，后到者为准；重复投递得到相同结果
		state := m.PlayerState.Clone()
		s.playerState = &state
		return []emission{{ev: EventPlayerStateUpdate, msg: m}}
	case *protocol.GameState:
		return []emission{{ev: EventGameStateUpdate, msg: m}}
	case *protocol.Error:
		s.log.Errorw("server error", "error", m.Error)
		return []emission{{ev: EventError, msg: m}}
	default:
		s.log.Debugw("ignoring unexpected message", "type", msg.Type())
		return nil
	}
}

func (s *Session) handleLoginResponseLocked(m *protocol.LoginResponse) []emission {
	if s.state != StateConnecting {
		// 重复或迟到的登录回复
		return nil
	}
	if s.loginTimer != nil {
		s.loginTimer.Stop()
		s.loginTimer = nil
	}
	if !m.Success {
		s.log.Errorw("login failed", "error", m.Error)
		s.teardownLocked()
		s.state = StateFailed
		return []emission{{ev: EventLoginFailed, msg: m}}
	}

	s.state = StateConnected
	s.reconnectAttempts = 0
	if m.PlayerID != "" {
		s.playerID = m.PlayerID
	}
	if m.PlayerState != nil {
		state := m.PlayerState.Clone()
		s.playerState = &state
		s.predicted = Prediction{Position: state.Position, Velocity: state.Velocity}
	}
	s.scheduleHeartbeatLocked()
	s.log.Infow("login succeeded", "player", s.playerID)
	return []emission{{ev: EventLoginSuccess, msg: m}}
}

// SendPlayerMove 上报移动；未连接或距上次上报不足 MoveInterval 时丢弃并返回 false
func (s *Session) SendPlayerMove(position, velocity protocol.Vec2) bool {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	if !s.lastMoveAt.IsZero() && now.Sub(s.lastMoveAt) < s.cfg.MoveInterval {
		s.mu.Unlock()
		return false
	}
	pos := position
	msg := &protocol.PlayerMove{
		PlayerID:  s.playerID,
		Position:  &pos,
		Velocity:  velocity,
		Timestamp: s.stampLocked(),
	}
	var evs []emission
	sent := false
	if err := s.sendLocked(msg); err != nil {
		evs = s.handleConnectionErrorLocked(err)
	} else {
		s.lastMoveAt = now
		s.predicted = Prediction{Position: position, Velocity: velocity}
		sent = true
	}
	s.mu.Unlock()
	s.fire(evs)
	return sent
}

// SendPlayerAction 上报动作，不节流，不等待确认
func (s *Session) SendPlayerAction(actionType string, targetID *string, payload protocol.ActionPayload) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	msg := &protocol.PlayerAction{
		PlayerID:      s.playerID,
		ActionType:    actionType,
		TargetID:      targetID,
		Timestamp:     s.stampLocked(),
		ActionPayload: payload,
	}
	var evs []emission
	err := s.sendLocked(msg)
	if err != nil {
		evs = s.handleConnectionErrorLocked(err)
	}
	s.mu.Unlock()
	s.fire(evs)
	return err
}

// UseSkill 施放技能
func (s *Session) UseSkill(skillID string) error {
	payload := protocol.ActionPayload{SkillID: skillID}
	if skill, ok := protocol.LookupSkill(skillID); ok {
		payload.SkillName = skill.Name
	}
	return s.SendPlayerAction(protocol.ActionSkillUse, nil, payload)
}

// UseItem 使用背包某格的物品
func (s *Session) UseItem(itemID string, slot int) error {
	return s.SendPlayerAction(protocol.ActionItemUse, nil, protocol.ActionPayload{
		ItemID:    itemID,
		ItemName:  s.itemName(slot, itemID),
		SlotIndex: protocol.IntPtr(slot),
	})
}

// MoveItem 把物品从一格移到另一格（目标格有物品时两者交换）
func (s *Session) MoveItem(itemID string, from, to int) error {
	return s.SendPlayerAction(protocol.ActionItemMove, nil, protocol.ActionPayload{
		ItemID:    itemID,
		ItemName:  s.itemName(from, itemID),
		FromIndex: protocol.IntPtr(from),
		ToIndex:   protocol.IntPtr(to),
	})
}

func (s *Session) itemName(slot int, itemID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerState == nil || slot < 0 || slot >= len(s.playerState.Inventory) {
		return ""
	}
	if it := s.playerState.Inventory[slot]; it != nil && it.ID == itemID {
		return it.Name
	}
	return ""
}

// stampLocked 毫秒时间戳，同一会话内严格递增，
// 同一毫秒内的两次相同动作不会被服务端当作重复投递
func (s *Session) stampLocked() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.lastStamp {
		ts = s.lastStamp + 1
	}
	s.lastStamp = ts
	return ts
}

func (s *Session) sendLocked(m protocol.Message) error {
	if s.ep == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", m.Type(), err)
	}
	if err := s.ep.Send(s.cfg.ServerAddr, data); err != nil {
		return fmt.Errorf("client: send %s: %w", m.Type(), err)
	}
	return nil
}

func (s *Session) fire(evs []emission) {
	for _, e := range evs {
		s.events.emit(e.ev, e.msg)
	}
}

// State 当前连接状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlayerID 持久化的玩家 id；首次登录成功前可能为空
func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// ReconnectAttempts 当前一轮的自动重连次数
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// PlayerState 最近一次服务端下发的完整状态副本
func (s *Session) PlayerState() (protocol.PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerState == nil {
		return protocol.PlayerState{}, false
	}
	return s.playerState.Clone(), true
}

// Predicted 本地预测的位置与速度
func (s *Session) Predicted() Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predicted
}

// LastHeartbeatAck 最近一次收到心跳回复的本地时刻
func (s *Session) LastHeartbeatAck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAck
}

// RTT 最近一次心跳往返时延
func (s *Session) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}
