package tuning

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning is the bot configuration (bot.yaml).
type Tuning struct {
	AgentName  string `yaml:"agent_name"`
	WorldWSURL string `yaml:"world_ws_url"`

	TickMs  int     `yaml:"tick_ms"`
	MaxStep float64 `yaml:"max_step"`
	MinY    int     `yaml:"min_y"`
	MaxY    int     `yaml:"max_y"`

	DataDir       string `yaml:"data_dir"`
	ControlListen string `yaml:"control_listen"`
	// ControlSecret enables HMAC signed requests on the control endpoint.
	ControlSecret string `yaml:"control_secret"`
	ChatPrefix    string `yaml:"chat_prefix"`

	Journal        bool `yaml:"journal"`
	IndexDB        bool `yaml:"index_db"`
	StrictProtocol bool `yaml:"strict_protocol"`

	ReconnectMinMs int `yaml:"reconnect_min_ms"`
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
}

func Defaults() Tuning {
	return Tuning{
		AgentName:      "turtle",
		WorldWSURL:     "ws://127.0.0.1:8080/v1/ws",
		TickMs:         50,
		MaxStep:        0.5,
		MinY:           0,
		MaxY:           127,
		DataDir:        "./data",
		ControlListen:  "",
		Journal:        true,
		IndexDB:        true,
		ReconnectMinMs: 200,
		ReconnectMaxMs: 5000,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("bot.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("bot.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.AgentName = strings.TrimSpace(t.AgentName)
	t.WorldWSURL = strings.TrimSpace(t.WorldWSURL)
	t.ChatPrefix = strings.TrimLeft(t.ChatPrefix, " \t")
	if t.TickMs <= 0 {
		t.TickMs = 50
	}
	if t.ReconnectMinMs <= 0 {
		t.ReconnectMinMs = 200
	}
	if t.ReconnectMaxMs < t.ReconnectMinMs {
		t.ReconnectMaxMs = t.ReconnectMinMs
	}
	if strings.TrimSpace(t.DataDir) == "" {
		t.DataDir = "./data"
	}
}

func (t Tuning) Validate() error {
	if t.AgentName == "" {
		return fmt.Errorf("agent_name must not be empty")
	}
	if t.WorldWSURL == "" {
		return fmt.Errorf("world_ws_url must not be empty")
	}
	u, err := url.Parse(t.WorldWSURL)
	if err != nil {
		return fmt.Errorf("world_ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("world_ws_url scheme must be ws or wss, got %q", u.Scheme)
	}
	if t.TickMs <= 0 {
		return fmt.Errorf("tick_ms must be > 0")
	}
	if !(t.MaxStep > 0) || math.IsInf(t.MaxStep, 0) {
		return fmt.Errorf("max_step must be a positive number")
	}
	if t.MinY > t.MaxY {
		return fmt.Errorf("min_y must be <= max_y")
	}
	return nil
}

func (t Tuning) Tick() time.Duration {
	return time.Duration(t.TickMs) * time.Millisecond
}

func (t Tuning) ReconnectMin() time.Duration {
	return time.Duration(t.ReconnectMinMs) * time.Millisecond
}

func (t Tuning) ReconnectMax() time.Duration {
	return time.Duration(t.ReconnectMaxMs) * time.Millisecond
}
