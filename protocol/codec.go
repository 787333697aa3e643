package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMalformed 结构非法（非 JSON、缺少类型或必填字段）
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType 无法识别的类型标签
	ErrUnknownType = errors.New("unknown message type")
)

var factories = map[MessageType]func() Message{
	TypeLogin:             func() Message { return new(Login) },
	TypeLoginResponse:     func() Message { return new(LoginResponse) },
	TypeHeartbeat:         func() Message { return new(Heartbeat) },
	TypeHeartbeatResponse: func() Message { return new(HeartbeatResponse) },
	TypePlayerState:       func() Message { return new(PlayerStateUpdate) },
	TypePlayerMove:        func() Message { return new(PlayerMove) },
	TypePlayerAction:      func() Message { return new(PlayerAction) },
	TypeGameState:         func() Message { return new(GameState) },
	TypeError:             func() Message { return new(Error) },
}

type validator interface {
	validate() error
}

// Encode 将消息编码为带 "type" 标签的 JSON 对象
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	// 在对象开头插入类型标签：{"type":N,...}
	var buf bytes.Buffer
	buf.Grow(len(body) + 12)
	buf.WriteString(`{"type":`)
	buf.WriteString(strconv.Itoa(int(m.Type())))
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode 解析一个数据报；未知的附加字段忽略，以保证前向兼容
func Decode(data []byte) (Message, error) {
	var head struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	factory, ok := factories[*head.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(*head.Type))
	}
	msg := factory()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, *head.Type, err)
	}
	if v, ok := msg.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, *head.Type, err)
		}
	}
	return msg, nil
}

func (m *PlayerMove) validate() error {
	if m.Position == nil {
		return errors.New("missing position")
	}
	return nil
}

func (m *PlayerAction) validate() error {
	if m.ActionType == "" {
		return errors.New("missing actionType")
	}
	return nil
}

func (m *PlayerStateUpdate) validate() error {
	if m.Inventory != nil && len(m.Inventory) != InventorySize {
		return fmt.Errorf("inventory has %d slots, want %d", len(m.Inventory), InventorySize)
	}
	return nil
}
