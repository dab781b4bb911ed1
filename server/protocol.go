package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 线上信封格式：JSON 对象，以 "type" 字段作为判别标签
// 入站示例：{"type":"Join","player_id":"p1","player_name":"Alice"}
// 出站示例：{"type":"PlayerMoved","player_id":"p1","x":1,"y":2,"z":3}

var (
	ErrMalformed   = errors.New("protocol: malformed envelope")
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// MessageType 信封的判别标签
type MessageType string

const (
	TypeJoin           MessageType = "Join"
	TypeUpdatePosition MessageType = "UpdatePosition"
	TypeLeave          MessageType = "Leave"

	TypePlayerJoined MessageType = "PlayerJoined"
	TypePlayerLeft   MessageType = "PlayerLeft"
	TypePlayerMoved  MessageType = "PlayerMoved"
	TypeGameState    MessageType = "GameState"
	TypeError        MessageType = "Error"
)

// ClientMessage 客户端发来的消息：Join / UpdatePosition / Leave
type ClientMessage interface {
	Type() MessageType
}

// ServerMessage 服务端推送的事件：PlayerJoined / PlayerLeft / PlayerMoved / GameState / Error
type ServerMessage interface {
	Type() MessageType
}

type Join struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

type UpdatePosition struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type Leave struct{}

func (Join) Type() MessageType           { return TypeJoin }
func (UpdatePosition) Type() MessageType { return TypeUpdatePosition }
func (Leave) Type() MessageType          { return TypeLeave }

// Position 转换为注册表使用的坐标
func (m UpdatePosition) Position() Position { return Position{X: m.X, Y: m.Y, Z: m.Z} }

type PlayerJoined struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
}

type PlayerLeft struct {
	PlayerID string `json:"player_id"`
}

type PlayerMoved struct {
	PlayerID string  `json:"player_id"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Z        float32 `json:"z"`
}

// GameState 完整的玩家列表快照
type GameState struct {
	Players []Player `json:"players"`
}

// ErrorMessage 线上标签为 "Error"
type ErrorMessage struct {
	Message string `json:"message"`
}

func (PlayerJoined) Type() MessageType { return TypePlayerJoined }
func (PlayerLeft) Type() MessageType   { return TypePlayerLeft }
func (PlayerMoved) Type() MessageType  { return TypePlayerMoved }
func (GameState) Type() MessageType    { return TypeGameState }
func (ErrorMessage) Type() MessageType { return TypeError }

// DecodeClientMessage 解析一条入站信封，并在进入注册表之前校验字段形状
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	root, tag, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeJoin:
		if err := requireFields(root, gjson.String, "player_id", "player_name"); err != nil {
			return nil, err
		}
		if root.Get("player_id").Str == "" {
			return nil, fmt.Errorf("%w: empty player_id", ErrMalformed)
		}
		return decodeAs[Join](data)
	case TypeUpdatePosition:
		if err := requireFields(root, gjson.Number, "x", "y", "z"); err != nil {
			return nil, err
		}
		return decodeAs[UpdatePosition](data)
	case TypeLeave:
		return Leave{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
}

// EncodeClientMessage 编码入站消息（客户端与测试使用）
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	return encodeTagged(m, m.Type())
}

// EncodeServerMessage 编码出站事件；对合法的事件值不会失败
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	if gs, ok := m.(GameState); ok && gs.Players == nil {
		m = GameState{Players: []Player{}}
	}
	return encodeTagged(m, m.Type())
}

// DecodeServerMessage 解析出站事件（客户端与测试使用）
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	root, tag, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypePlayerJoined:
		if err := requireFields(root, gjson.String, "player_id", "player_name"); err != nil {
			return nil, err
		}
		return decodeAs[PlayerJoined](data)
	case TypePlayerLeft:
		if err := requireFields(root, gjson.String, "player_id"); err != nil {
			return nil, err
		}
		return decodeAs[PlayerLeft](data)
	case TypePlayerMoved:
		if err := requireFields(root, gjson.String, "player_id"); err != nil {
			return nil, err
		}
		if err := requireFields(root, gjson.Number, "x", "y", "z"); err != nil {
			return nil, err
		}
		return decodeAs[PlayerMoved](data)
	case TypeGameState:
		if !root.Get("players").IsArray() {
			return nil, fmt.Errorf("%w: players must be an array", ErrMalformed)
		}
		return decodeAs[GameState](data)
	case TypeError:
		if err := requireFields(root, gjson.String, "message"); err != nil {
			return nil, err
		}
		return decodeAs[ErrorMessage](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
}

func parseEnvelope(data []byte) (gjson.Result, MessageType, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, "", fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, "", fmt.Errorf("%w: envelope is not an object", ErrMalformed)
	}
	tag := root.Get("type")
	if tag.Type != gjson.String {
		return gjson.Result{}, "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return root, MessageType(tag.Str), nil
}

func requireFields(root gjson.Result, kind gjson.Type, names ...string) error {
	for _, name := range names {
		if v := root.Get(name); v.Type != kind {
			return fmt.Errorf("%w: field %q must be %s", ErrMalformed, name, kind)
		}
	}
	return nil
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func encodeTagged(v any, tag MessageType) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, "type", string(tag))
}
