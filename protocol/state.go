package protocol

import "math"

const (
	// WorldWidth 世界边界（x 轴）
	WorldWidth = 800.0
	// WorldHeight 世界边界（y 轴）
	WorldHeight = 600.0
	// InventorySize 背包格子数
	InventorySize = 20
)

// Vec2 二维坐标/速度
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite 将 NaN/Inf 分量置 0，保证可编码
func (v Vec2) Finite() Vec2 {
	if math.IsNaN(v.X) || math.IsInf(v.X, 0) {
		v.X = 0
	}
	if math.IsNaN(v.Y) || math.IsInf(v.Y, 0) {
		v.Y = 0
	}
	return v
}

// ClampToWorld 将坐标裁剪进 [0,800]x[0,600]（裁剪而非拒绝）
func (v Vec2) ClampToWorld() Vec2 {
	v = v.Finite()
	v.X = math.Max(0, math.Min(WorldWidth, v.X))
	v.Y = math.Max(0, math.Min(WorldHeight, v.Y))
	return v
}

// Quality 物品品质
type Quality string

const (
	QualityCommon   Quality = "common"
	QualityUncommon Quality = "uncommon"
	QualityRare     Quality = "rare"
	QualityEpic     Quality = "epic"
)

// ItemStack 背包中的一叠物品，数量为 0 时整格移除
type ItemStack struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Quality  Quality `json:"quality"`
	Icon     string  `json:"icon"`
}

// PlayerState 单个玩家的权威状态，仅服务端可写
type PlayerState struct {
	PlayerID       string       `json:"playerId"`
	Health         int          `json:"health"`
	MaxHealth      int          `json:"maxHealth"`
	Exp            int          `json:"exp"`
	MaxExp         int          `json:"maxExp"`
	Level          int          `json:"level"`
	Position       Vec2         `json:"position"`
	Velocity       Vec2         `json:"velocity"`
	SkillCooldowns map[int]int  `json:"skillCooldowns"`
	Inventory      []*ItemStack `json:"inventory"`
}

// NewPlayerState 按初始数值创建玩家状态
func NewPlayerState(playerID string) PlayerState {
	return PlayerState{
		PlayerID:       playerID,
		Health:         100,
		MaxHealth:      100,
		Exp:            0,
		MaxExp:         100,
		Level:          1,
		Position:       Vec2{X: WorldWidth / 2, Y: WorldHeight / 2},
		SkillCooldowns: map[int]int{},
		Inventory:      DefaultInventory(),
	}
}

// Clone 深拷贝，快照与缓存都必须与原对象隔离
func (s PlayerState) Clone() PlayerState {
	out := s
	if s.SkillCooldowns != nil {
		out.SkillCooldowns = make(map[int]int, len(s.SkillCooldowns))
		for k, v := range s.SkillCooldowns {
			out.SkillCooldowns[k] = v
		}
	}
	if s.Inventory != nil {
		out.Inventory = make([]*ItemStack, len(s.Inventory))
		for i, it := range s.Inventory {
			if it != nil {
				cp := *it
				out.Inventory[i] = &cp
			}
		}
	}
	return out
}

// ApplyHealthDelta 修改生命值并夹在 [0, maxHealth]，返回实际变化量
func (s *PlayerState) ApplyHealthDelta(delta int) int {
	before := s.Health
	s.Health = max(0, min(s.MaxHealth, s.Health+delta))
	return s.Health - before
}
