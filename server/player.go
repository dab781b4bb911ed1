package server

// Position 玩家在世界中的坐标（三个独立的浮点分量）
type Position struct {
	X float32
	Y float32
	Z float32
}

// Player 注册表中的玩家记录（服务端权威状态）
// Name 在加入时确定；位置只由玩家自己的 UpdatePosition 修改
type Player struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Z    float32 `json:"z"`
}

// Position 返回玩家当前坐标
func (p Player) Position() Position {
	return Position{X: p.X, Y: p.Y, Z: p.Z}
}

func (p *Player) moveTo(pos Position) {
	p.X, p.Y, p.Z = pos.X, pos.Y, pos.Z
}
