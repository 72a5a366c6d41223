package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello      = "HELLO"
	TypeWelcome    = "WELCOME"
	TypePosition   = "POSITION"
	TypeKeepAlive  = "KEEPALIVE"
	TypeChat       = "CHAT"
	TypeSpawn      = "SPAWN"
	TypeTime       = "TIME"
	TypePlayerList = "PLAYER_LIST"
	TypeDig        = "DIG"
	TypePlace      = "PLACE"
	TypeHold       = "HOLD"
	TypeError      = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsSupportedVersion(v string) bool {
	return v == "" || v == Version
}
