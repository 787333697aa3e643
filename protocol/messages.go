package protocol

import (
	"fmt"
	"strings"
)

// Version 客户端登录时携带的协议版本，主版本号一致即视为兼容
const Version = "1.0.0"

// MessageType 线上消息类型标签
type MessageType int

const (
	TypeLogin             MessageType = 1
	TypeLoginResponse     MessageType = 2
	TypeHeartbeat         MessageType = 3
	TypeHeartbeatResponse MessageType = 4
	TypePlayerState       MessageType = 5
	TypePlayerMove        MessageType = 6
	TypePlayerAction      MessageType = 7
	TypeGameState         MessageType = 8
	TypeError             MessageType = 99
)

func (t MessageType) String() string {
	switch t {
	case TypeLogin:
		return "LOGIN"
	case TypeLoginResponse:
		return "LOGIN_RESPONSE"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeHeartbeatResponse:
		return "HEARTBEAT_RESPONSE"
	case TypePlayerState:
		return "PLAYER_STATE"
	case TypePlayerMove:
		return "PLAYER_MOVE"
	case TypePlayerAction:
		return "PLAYER_ACTION"
	case TypeGameState:
		return "GAME_STATE"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message 线上消息的标签联合，具体类型见下方各结构体
type Message interface {
	Type() MessageType
}

// Login 客户端 → 服务端；playerId 为空表示首次接触，由服务端分配
type Login struct {
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// LoginResponse 服务端 → 客户端，成功时携带完整玩家状态
type LoginResponse struct {
	Success     bool         `json:"success"`
	PlayerID    string       `json:"playerId"`
	PlayerState *PlayerState `json:"playerState,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   int64        `json:"timestamp"`
}

// Heartbeat 客户端 → 服务端
type Heartbeat struct {
	PlayerID  string `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}

// HeartbeatResponse 服务端 → 客户端；clientTime 回显心跳时间戳用于测 RTT
type HeartbeatResponse struct {
	Timestamp  int64 `json:"timestamp"`
	ClientTime int64 `json:"clientTime,omitempty"`
}

// Effect 动作效果摘要
type Effect struct {
	HealthChange int    `json:"healthChange,omitempty"`
	Message      string `json:"message,omitempty"`
}

// PlayerStateUpdate 服务端 → 客户端的完整状态（整体覆盖，不是增量）
type PlayerStateUpdate struct {
	PlayerState
	SkillEffect *Effect `json:"skillEffect,omitempty"`
	ItemEffect  *Effect `json:"itemEffect,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// PlayerMove 客户端 → 服务端
type PlayerMove struct {
	PlayerID  string `json:"playerId"`
	Position  *Vec2  `json:"position"`
	Velocity  Vec2   `json:"velocity"`
	Timestamp int64  `json:"timestamp"`
}

// ActionPayload 各动作类型附带的参数，平铺在 PLAYER_ACTION 中
type ActionPayload struct {
	SkillID   string `json:"skillId,omitempty"`
	SkillName string `json:"skillName,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
	ItemName  string `json:"itemName,omitempty"`
	SlotIndex *int   `json:"slotIndex,omitempty"`
	FromIndex *int   `json:"fromIndex,omitempty"`
	ToIndex   *int   `json:"toIndex,omitempty"`
}

// PlayerAction 客户端 → 服务端；targetId 可为 null
type PlayerAction struct {
	PlayerID   string  `json:"playerId"`
	ActionType string  `json:"actionType"`
	TargetID   *string `json:"targetId"`
	Timestamp  int64   `json:"timestamp"`
	ActionPayload
}

// RosterEntry 全局快照中的单个玩家
type RosterEntry struct {
	PlayerID string `json:"playerId"`
	Position Vec2   `json:"position"`
}

// GameState 服务端 → 客户端的轻量全局快照
type GameState struct {
	Players   []RosterEntry `json:"players"`
	GameTime  int64         `json:"gameTime"`
	Timestamp int64         `json:"timestamp"`
}

// Error 服务端 → 客户端的错误描述
type Error struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

func (*Login) Type() MessageType             { return TypeLogin }
func (*LoginResponse) Type() MessageType     { return TypeLoginResponse }
func (*Heartbeat) Type() MessageType         { return TypeHeartbeat }
func (*HeartbeatResponse) Type() MessageType { return TypeHeartbeatResponse }
func (*PlayerStateUpdate) Type() MessageType { return TypePlayerState }
func (*PlayerMove) Type() MessageType        { return TypePlayerMove }
func (*PlayerAction) Type() MessageType      { return TypePlayerAction }
func (*GameState) Type() MessageType         { return TypeGameState }
func (*Error) Type() MessageType             { return TypeError }

// IntPtr 便于构造可选下标
func IntPtr(v int) *int { return &v }

// CompatibleVersion 主版本号一致即兼容；空版本视为当前版本
func CompatibleVersion(v string) bool {
	if v == "" {
		return true
	}
	return major(v) == major(Version)
}

func major(v string) string {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
