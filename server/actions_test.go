package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"playersync/protocol"
)

// act 发送一个动作并返回唯一的 PLAYER_STATE 回复；无回复时返回 nil
func act(t *testing.T, tbl *Table, key string, a *protocol.PlayerAction) *protocol.PlayerStateUpdate {
	t.Helper()
	out := tbl.HandlePlayerAction(key, a, epoch)
	if len(out) == 0 {
		return nil
	}
	if len(out) != 1 || out[0].To != key {
		t.Fatalf("expected a single reply to %s, got %+v", key, out)
	}
	update, ok := out[0].Msg.(*protocol.PlayerStateUpdate)
	if !ok {
		t.Fatalf("expected PLAYER_STATE reply, got %T", out[0].Msg)
	}
	return update
}

func setHealth(t *testing.T, tbl *Table, id string, hp int) {
	t.Helper()
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tbl.players[id].state.Health = hp
}

func TestSkillUse_HealClampsToMax(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	setHealth(t, tbl, "alice", 85)

	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType:    protocol.ActionSkillUse,
		Timestamp:     1,
		ActionPayload: protocol.ActionPayload{SkillID: "heal", SkillName: "Heal"},
	})
	if update == nil {
		t.Fatalf("expected a reply")
	}
	if update.Health != 100 {
		t.Fatalf("expected health 100, got %d", update.Health)
	}
	if update.SkillEffect == nil || update.SkillEffect.HealthChange != 15 {
		t.Fatalf("expected healthChange 15, got %+v", update.SkillEffect)
	}
	if update.ItemEffect != nil {
		t.Fatalf("skill reply must not carry an item effect")
	}
	if got := update.SkillCooldowns[1]; got != 3 {
		t.Fatalf("expected heal cooldown 3, got %d", got)
	}
}

func TestSkillUse_DamageClampsToZero(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	setHealth(t, tbl, "alice", 5)

	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType:    protocol.ActionSkillUse,
		Timestamp:     1,
		ActionPayload: protocol.ActionPayload{SkillID: "fireball"},
	})
	if update.Health != 0 {
		t.Fatalf("expected health 0, got %d", update.Health)
	}
	if update.SkillEffect.HealthChange != -5 {
		t.Fatalf("expected healthChange -5, got %d", update.SkillEffect.HealthChange)
	}
	if got := update.SkillCooldowns[0]; got != 3 {
		t.Fatalf("expected fireball cooldown in slot 0, got %v", update.SkillCooldowns)
	}
}

func TestSkillUse_CooldownBlocksRepeat(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)

	act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType: protocol.ActionSkillUse, Timestamp: 1,
		ActionPayload: protocol.ActionPayload{SkillID: "fireball"},
	})
	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType: protocol.ActionSkillUse, Timestamp: 2,
		ActionPayload: protocol.ActionPayload{SkillID: "fireball"},
	})
	if update.Health != 90 {
		t.Fatalf("expected second fireball to be blocked, health %d", update.Health)
	}
	if update.SkillEffect.HealthChange != 0 || update.SkillEffect.Message == "" {
		t.Fatalf("expected cooldown notice, got %+v", update.SkillEffect)
	}
}

func TestSkillUse_UnknownSkillIsNoop(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)

	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType: protocol.ActionSkillUse, Timestamp: 1,
		ActionPayload: protocol.ActionPayload{SkillID: "meteor", SkillName: "Meteor"},
	})
	if update.Health != 100 || len(update.SkillCooldowns) != 0 {
		t.Fatalf("unknown skill must not change state, got %+v", update.PlayerState)
	}
	if update.SkillEffect.Message != "used Meteor" {
		t.Fatalf("unexpected effect message %q", update.SkillEffect.Message)
	}
}

func TestItemUse_ConsumesAndRemovesAtZero(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	setHealth(t, tbl, "alice", 50)

	slot := 0
	for i, want := range []int{2, 1, 0} {
		update := act(t, tbl, "addr-1", &protocol.PlayerAction{
			ActionType:    protocol.ActionItemUse,
			Timestamp:     int64(10 + i),
			ActionPayload: protocol.ActionPayload{ItemID: "potion_heal", SlotIndex: &slot},
		})
		if update.ItemEffect == nil {
			t.Fatalf("expected item effect")
		}
		stack := update.Inventory[0]
		if want == 0 {
			if stack != nil {
				t.Fatalf("expected empty slot after last potion, got %+v", stack)
			}
			continue
		}
		if stack == nil || stack.Quantity != want {
			t.Fatalf("use %d: expected quantity %d, got %+v", i, want, stack)
		}
	}
	state, _ := tbl.Player("alice", epoch)
	if state.Health != 100 {
		t.Fatalf("expected potions to heal to 100, got %d", state.Health)
	}

	// 槽位已空，再用不会生效
	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType:    protocol.ActionItemUse,
		Timestamp:     99,
		ActionPayload: protocol.ActionPayload{ItemID: "potion_heal", SlotIndex: &slot},
	})
	if update.ItemEffect.HealthChange != 0 || update.Inventory[0] != nil {
		t.Fatalf("expected no-op on empty slot, got %+v", update.ItemEffect)
	}
}

func TestItemMove_MovesIntoEmptySlot(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	before, _ := tbl.Player("alice", epoch)

	from, to := 0, 4
	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType:    protocol.ActionItemMove,
		Timestamp:     1,
		ActionPayload: protocol.ActionPayload{ItemID: "potion_heal", FromIndex: &from, ToIndex: &to},
	})
	if update.Inventory[0] != nil {
		t.Fatalf("expected source slot to be empty, got %+v", update.Inventory[0])
	}
	if diff := cmp.Diff(before.Inventory[0], update.Inventory[4]); diff != "" {
		t.Fatalf("unexpected destination slot (-want +got):\n%s", diff)
	}
	if len(update.Inventory) != protocol.InventorySize {
		t.Fatalf("inventory must keep %d slots, got %d", protocol.InventorySize, len(update.Inventory))
	}
}

func TestItemMove_SwapsOccupiedSlot(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	before, _ := tbl.Player("alice", epoch)

	from, to := 0, 1
	update := act(t, tbl, "addr-1", &protocol.PlayerAction{
		ActionType:    protocol.ActionItemMove,
		Timestamp:     1,
		ActionPayload: protocol.ActionPayload{ItemID: "potion_heal", FromIndex: &from, ToIndex: &to},
	})
	if diff := cmp.Diff(before.Inventory[1], update.Inventory[0]); diff != "" {
		t.Fatalf("displaced item should land in source slot (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before.Inventory[0], update.Inventory[1]); diff != "" {
		t.Fatalf("moved item should land in destination slot (-want +got):\n%s", diff)
	}
}

func TestItemMove_RejectsStaleOrInvalid(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	before, _ := tbl.Player("alice", epoch)

	idx := func(v int) *int { return &v }
	cases := []struct {
		name    string
		payload protocol.ActionPayload
	}{
		{"wrong item", protocol.ActionPayload{ItemID: "sword_iron", FromIndex: idx(0), ToIndex: idx(4)}},
		{"empty source", protocol.ActionPayload{ItemID: "potion_heal", FromIndex: idx(10), ToIndex: idx(4)}},
		{"out of range", protocol.ActionPayload{ItemID: "potion_heal", FromIndex: idx(0), ToIndex: idx(20)}},
		{"negative", protocol.ActionPayload{ItemID: "potion_heal", FromIndex: idx(-1), ToIndex: idx(4)}},
		{"same slot", protocol.ActionPayload{ItemID: "potion_heal", FromIndex: idx(0), ToIndex: idx(0)}},
		{"missing index", protocol.ActionPayload{ItemID: "potion_heal", FromIndex: idx(0)}},
	}
	for i, tc := range cases {
		update := act(t, tbl, "addr-1", &protocol.PlayerAction{
			ActionType:    protocol.ActionItemMove,
			Timestamp:     int64(i + 1),
			ActionPayload: tc.payload,
		})
		if update == nil {
			t.Fatalf("%s: expected a reply", tc.name)
		}
		if diff := cmp.Diff(before.Inventory, update.Inventory); diff != "" {
			t.Fatalf("%s: inventory changed (-before +after):\n%s", tc.name, diff)
		}
	}
}

func TestPlayerAction_UnknownTypeIgnored(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	before, _ := tbl.Player("alice", epoch)

	if update := act(t, tbl, "addr-1", &protocol.PlayerAction{ActionType: "dance", Timestamp: 1}); update != nil {
		t.Fatalf("expected unknown action to produce no reply, got %+v", update)
	}
	after, _ := tbl.Player("alice", epoch)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("unknown action changed state (-before +after):\n%s", diff)
	}
	if got := tbl.Metrics().ActionsUnknown; got != 1 {
		t.Fatalf("expected 1 unknown action, got %d", got)
	}
}

func TestPlayerAction_UnknownSessionDropped(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	out := tbl.HandlePlayerAction("stranger", &protocol.PlayerAction{ActionType: protocol.ActionSkillUse}, epoch)
	if out != nil {
		t.Fatalf("expected no reply, got %v", out)
	}
}

func TestPlayerAction_DuplicateDeliveryAppliedOnce(t *testing.T) {
	tbl := newTestTable(t, DefaultConfig())
	login(t, tbl, "addr-1", "alice", epoch)
	setHealth(t, tbl, "alice", 50)

	slot := 0
	a := &protocol.PlayerAction{
		ActionType:    protocol.ActionItemUse,
		Timestamp:     42,
		ActionPayload: protocol.ActionPayload{ItemID: "potion_heal", SlotIndex: &slot},
	}
	if act(t, tbl, "addr-1", a) == nil {
		t.Fatalf("expected first delivery to be applied")
	}
	if act(t, tbl, "addr-1", a) != nil {
		t.Fatalf("expected duplicate delivery to be dropped")
	}
	state, _ := tbl.Player("alice", epoch)
	if state.Inventory[0].Quantity != 2 {
		t.Fatalf("expected exactly one potion consumed, have %d", state.Inventory[0].Quantity)
	}
	if got := tbl.Metrics().ActionsDuplicate; got != 1 {
		t.Fatalf("expected 1 duplicate, got %d", got)
	}
}

func TestSeenAction_WindowEvictsOldest(t *testing.T) {
	s := &session{}
	fp := func(ts int64) actionFingerprint { return actionFingerprint{timestamp: ts, actionType: "skill_use"} }
	for ts := int64(1); ts <= 3; ts++ {
		if s.seenAction(fp(ts), 2) {
			t.Fatalf("fingerprint %d reported as seen on first sight", ts)
		}
	}
	if s.seenAction(fp(1), 2) {
		t.Fatalf("expected fingerprint 1 to have been evicted from the window")
	}
	if !s.seenAction(fp(1), 2) {
		t.Fatalf("expected fingerprint 1 to be seen after re-recording")
	}
	if s.seenAction(actionFingerprint{}, 2) || s.seenAction(actionFingerprint{}, 2) {
		t.Fatalf("zero timestamp must never dedup")
	}
}
