package server

import (
	"math"
	"time"

	"playersync/protocol"
)

// player 服务端权威玩家记录；冷却以到期时刻保存，快照时换算为剩余秒数
type player struct {
	state         protocol.PlayerState
	cooldownUntil map[int]time.Time

	sessionKey   string    // 为空表示离线
	offlineSince time.Time // 离线起始时刻，用于过期清理
}

func newPlayer(id string) *player {
	return &player{
		state:         protocol.NewPlayerState(id),
		cooldownUntil: make(map[int]time.Time),
	}
}

// snapshot 深拷贝当前状态，顺带清掉已到期的冷却
func (p *player) snapshot(now time.Time) protocol.PlayerState {
	out := p.state.Clone()
	out.SkillCooldowns = make(map[int]int, len(p.cooldownUntil))
	for slot, until := range p.cooldownUntil {
		remaining := until.Sub(now)
		if remaining <= 0 {
			delete(p.cooldownUntil, slot)
			continue
		}
		out.SkillCooldowns[slot] = int(math.Ceil(remaining.Seconds()))
	}
	return out
}

func (p *player) onCooldown(slot int, now time.Time) bool {
	until, ok := p.cooldownUntil[slot]
	return ok && now.Before(until)
}

// session 传输层发送方地址与玩家的绑定
type session struct {
	key             string
	playerID        string
	createdAt       time.Time
	lastHeartbeatAt time.Time

	recentActions []actionFingerprint // 环形缓冲，最近的动作指纹
	nextAction    int
}

type actionFingerprint struct {
	timestamp  int64
	actionType string
	skillID    string
	itemID     string
	slot       int
	from       int
	to         int
}

func fingerprint(msg *protocol.PlayerAction) actionFingerprint {
	return actionFingerprint{
		timestamp:  msg.Timestamp,
		actionType: msg.ActionType,
		skillID:    msg.SkillID,
		itemID:     msg.ItemID,
		slot:       optIndex(msg.SlotIndex),
		from:       optIndex(msg.FromIndex),
		to:         optIndex(msg.ToIndex),
	}
}

func optIndex(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}

// seenAction 记录指纹；已在窗口内出现过则返回 true（传输层重复投递）
func (s *session) seenAction(fp actionFingerprint, window int) bool {
	if window <= 0 || fp.timestamp == 0 {
		return false
	}
	for _, prev := range s.recentActions {
		if prev == fp {
			return true
		}
	}
	if len(s.recentActions) < window {
		s.recentActions = append(s.recentActions, fp)
		return false
	}
	s.recentActions[s.nextAction] = fp
	s.nextAction = (s.nextAction + 1) % window
	return false
}
