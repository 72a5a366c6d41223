package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	AgentName       string     `json:"agent_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	MaxStep    float64 `json:"max_step"`
	MinY       int     `json:"min_y"`
	MaxY       int     `json:"max_y"`
}

// POSITION (both directions). From the server it is authoritative; from the
// client it doubles as the per-tick keep-alive.
type PositionMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version,omitempty"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
	Stance          float64 `json:"stance"`
	Yaw             float64 `json:"yaw"`
	Pitch           float64 `json:"pitch"`
	OnGround        bool    `json:"on_ground"`
}

type KeepAliveMsg struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

type ChatMsg struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// SPAWN (server -> client)
type SpawnMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
}

// TIME (server -> client): world clock in ticks.
type TimeMsg struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
}

// PLAYER_LIST (server -> client): one presence change.
type PlayerListMsg struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
	Ping   int    `json:"ping"`
}

// Block faces used by PLACE.
const (
	FaceBottom = 0
	FaceTop    = 1
	FaceNorth  = 2
	FaceSouth  = 3
	FaceWest   = 4
	FaceEast   = 5
)

// DIG (client -> server): remove the block at X,Y,Z.
type DigMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
}

// PLACE (client -> server): place the held item against Face of the block at X,Y,Z.
type PlaceMsg struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
	Face int    `json:"face"`
	Item int    `json:"item"`
}

// HOLD (client -> server): configure the held inventory slot.
type HoldMsg struct {
	Type string `json:"type"`
	Item int    `json:"item"`
	Uses int    `json:"uses"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
