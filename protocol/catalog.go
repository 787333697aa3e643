package protocol

import "time"

// 动作类型
const (
	ActionSkillUse = "skill_use"
	ActionItemUse  = "item_use"
	ActionItemMove = "item_move"
)

// SkillCooldown 所有技能统一冷却时长
const SkillCooldown = 3 * time.Second

// Skill 技能定义；技能 id 到技能栏位的映射客户端与服务端共享
type Skill struct {
	ID          string
	Name        string
	Slot        int
	HealthDelta int
	Cooldown    time.Duration
}

var skills = []Skill{
	{ID: "fireball", Name: "Fireball", Slot: 0, HealthDelta: -10, Cooldown: SkillCooldown},
	{ID: "heal", Name: "Heal", Slot: 1, HealthDelta: 20, Cooldown: SkillCooldown},
	{ID: "lightning", Name: "Chain Lightning", Slot: 2, Cooldown: SkillCooldown},
	{ID: "frost", Name: "Frost Nova", Slot: 3, Cooldown: SkillCooldown},
	{ID: "summon", Name: "Summon Pet", Slot: 4, Cooldown: SkillCooldown},
}

// Skills 返回技能表副本（按栏位顺序）
func Skills() []Skill {
	out := make([]Skill, len(skills))
	copy(out, skills)
	return out
}

// LookupSkill 按 id 查找技能
func LookupSkill(id string) (Skill, bool) {
	for _, s := range skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

// Consumable 可消耗物品效果
type Consumable struct {
	ItemID      string
	HealthDelta int
}

var consumables = map[string]Consumable{
	"potion_heal": {ItemID: "potion_heal", HealthDelta: 30},
}

// LookupConsumable 按物品 id 查找消耗效果
func LookupConsumable(itemID string) (Consumable, bool) {
	c, ok := consumables[itemID]
	return c, ok
}

// DefaultInventory 新玩家的初始背包，共 InventorySize 格
func DefaultInventory() []*ItemStack {
	inv := make([]*ItemStack, InventorySize)
	inv[0] = &ItemStack{ID: "potion_heal", Name: "Healing Potion", Quantity: 3, Quality: QualityUncommon, Icon: "🧪"}
	inv[1] = &ItemStack{ID: "scroll_magic", Name: "Magic Scroll", Quantity: 1, Quality: QualityRare, Icon: "📜"}
	inv[2] = &ItemStack{ID: "sword_iron", Name: "Iron Sword", Quantity: 1, Quality: QualityCommon, Icon: "⚔️"}
	inv[3] = &ItemStack{ID: "ring_gold", Name: "Gold Ring", Quantity: 1, Quality: QualityEpic, Icon: "💍"}
	return inv
}
