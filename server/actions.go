package server

import (
	"fmt"
	"time"

	"playersync/protocol"
)

// HandlePlayerAction 按 actionType 分发；每个已处理的动作都回复完整状态与效果摘要。
// 未知动作类型记录日志后忽略，状态不变，也不回复。
func (t *Table) HandlePlayerAction(key string, msg *protocol.PlayerAction, now time.Time) []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[key]
	if !ok {
		t.metrics.IncUnknownSession()
		return nil
	}
	p, ok := t.players[s.playerID]
	if !ok {
		t.metrics.IncUnknownSession()
		return nil
	}

	update := &protocol.PlayerStateUpdate{}
	switch msg.ActionType {
	case protocol.ActionSkillUse, protocol.ActionItemUse, protocol.ActionItemMove:
	default:
		t.metrics.IncActionsUnknown()
		t.log.Infow("unknown action type ignored", "session", key, "player", s.playerID, "actionType", msg.ActionType)
		return nil
	}

	if s.seenAction(fingerprint(msg), t.cfg.ActionDedupWindow) {
		t.metrics.IncActionsDuplicate()
		t.log.Debugw("duplicate action dropped", "session", key, "actionType", msg.ActionType, "timestamp", msg.Timestamp)
		return nil
	}

	switch msg.ActionType {
	case protocol.ActionSkillUse:
		eff := useSkill(p, msg, now)
		update.SkillEffect = &eff
	case protocol.ActionItemUse:
		eff := useItem(p, msg)
		update.ItemEffect = &eff
	case protocol.ActionItemMove:
		eff := moveItem(p, msg)
		update.ItemEffect = &eff
	}
	t.metrics.IncActionsApplied()
	t.log.Debugw("action applied", "player", s.playerID, "actionType", msg.ActionType,
		"skillEffect", update.SkillEffect, "itemEffect", update.ItemEffect)

	update.PlayerState = p.snapshot(now)
	update.Timestamp = now.UnixMilli()
	return []Outbound{{To: key, Msg: update}}
}

// useSkill 固定效果表：治疗不超过上限，伤害不低于 0；冷却中的技能不生效
func useSkill(p *player, msg *protocol.PlayerAction, now time.Time) protocol.Effect {
	skill, ok := protocol.LookupSkill(msg.SkillID)
	if !ok {
		name := msg.SkillName
		if name == "" {
			name = msg.SkillID
		}
		return protocol.Effect{Message: fmt.Sprintf("used %s", name)}
	}
	if p.onCooldown(skill.Slot, now) {
		return protocol.Effect{Message: fmt.Sprintf("%s is on cooldown", skill.Name)}
	}

	eff := protocol.Effect{Message: fmt.Sprintf("used %s", skill.Name)}
	if skill.HealthDelta != 0 {
		eff.HealthChange = p.state.ApplyHealthDelta(skill.HealthDelta)
	}
	p.cooldownUntil[skill.Slot] = now.Add(skill.Cooldown)
	return eff
}

// useItem 槽位里的物品与客户端声称的不一致时视为客户端视图过期，不做任何修改
func useItem(p *player, msg *protocol.PlayerAction) protocol.Effect {
	idx, ok := slotIndex(msg.SlotIndex)
	if !ok {
		return protocol.Effect{Message: "invalid inventory slot"}
	}
	stack := p.state.Inventory[idx]
	if stack == nil || stack.ID != msg.ItemID {
		return protocol.Effect{Message: "item not in slot"}
	}

	c, ok := protocol.LookupConsumable(stack.ID)
	if !ok {
		return protocol.Effect{Message: fmt.Sprintf("used %s", stack.Name)}
	}
	eff := protocol.Effect{
		HealthChange: p.state.ApplyHealthDelta(c.HealthDelta),
		Message:      fmt.Sprintf("used %s", stack.Name),
	}
	stack.Quantity--
	if stack.Quantity <= 0 {
		p.state.Inventory[idx] = nil
	}
	return eff
}

// moveItem 校验来源槽位后与目标槽位交换，目标原有物品移到来源槽位而不是被丢弃
func moveItem(p *player, msg *protocol.PlayerAction) protocol.Effect {
	from, okFrom := slotIndex(msg.FromIndex)
	to, okTo := slotIndex(msg.ToIndex)
	if !okFrom || !okTo || from == to {
		return protocol.Effect{Message: "invalid inventory move"}
	}
	inv := p.state.Inventory
	stack := inv[from]
	if stack == nil || stack.ID != msg.ItemID {
		return protocol.Effect{Message: "item not in slot"}
	}
	inv[from], inv[to] = inv[to], inv[from]
	return protocol.Effect{Message: fmt.Sprintf("moved %s to slot %d", stack.Name, to)}
}

func slotIndex(v *int) (int, bool) {
	if v == nil || *v < 0 || *v >= protocol.InventorySize {
		return 0, false
	}
	return *v, true
}
