package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"turtlecraft.ai/internal/protocol"
)

// Handler receives decoded server messages on the client's read goroutine.
type Handler interface {
	OnWelcome(protocol.WelcomeMsg)
	OnPosition(protocol.PositionMsg)
	OnChat(protocol.ChatMsg)
	OnSpawn(protocol.SpawnMsg)
	OnTime(protocol.TimeMsg)
	OnPlayer(protocol.PlayerListMsg)
	OnError(protocol.ErrorMsg)
	OnDisconnect(err error)
}

var ErrNotConnected = errors.New("ws: not connected")

type ClientConfig struct {
	URL         string
	AgentName   string
	ResumeToken string

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// StateFile, when set, persists the resume token across restarts.
	StateFile string

	// Validator enables strict mode: inbound messages failing their schema
	// are dropped.
	Validator *protocol.Validator
}

type ClientStatus struct {
	Connected       bool      `json:"connected"`
	AgentID         string    `json:"agent_id,omitempty"`
	URL             string    `json:"url"`
	LastConnectedAt time.Time `json:"last_connected_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Dropped         uint64    `json:"dropped"`
}

// Client is a reconnecting session with the world server.
type Client struct {
	cfg ClientConfig
	log *log.Logger
	h   Handler

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	conn    *websocket.Conn
	writeMu sync.Mutex

	connected       bool
	lastConnectedAt time.Time
	lastErr         string
	agentID         string
	resumeToken     string
	dropped         uint64
}

func NewClient(cfg ClientConfig, logger *log.Logger) *Client {
	if cfg.AgentName == "" {
		cfg.AgentName = "turtle"
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 200 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		cfg:         cfg,
		log:         logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		resumeToken: cfg.ResumeToken,
	}
	if c.resumeToken == "" && cfg.StateFile != "" {
		st, err := loadStateFile(cfg.StateFile)
		switch {
		case err != nil:
			logger.Printf("state file: %v", err)
		case st.URL == cfg.URL && st.AgentName == cfg.AgentName:
			c.resumeToken = st.ResumeToken
			c.agentID = st.AgentID
			c.lastConnectedAt = st.connectedTime()
		}
	}
	return c
}

// Start begins connecting in the background. Only the first call has effect.
func (c *Client) Start(h Handler) {
	c.startOnce.Do(func() {
		c.h = h
		go c.run()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.Disconnect()
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
	})
}

// Disconnect drops the current connection; the client reconnects unless it
// is closed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) Status() ClientStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientStatus{
		Connected:       c.connected,
		AgentID:         c.agentID,
		URL:             c.cfg.URL,
		LastConnectedAt: c.lastConnectedAt,
		LastError:       c.lastErr,
		Dropped:         c.dropped,
	}
}

// Send writes one message. It fails with ErrNotConnected while offline.
func (c *Client) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) run() {
	defer close(c.done)

	backoff := c.cfg.ReconnectMin
	for {
		select {
		case <-c.stop:
			c.Disconnect()
			return
		default:
		}

		welcomed, err := c.connectAndReadLoop()
		if welcomed {
			backoff = c.cfg.ReconnectMin
		}
		if err == nil {
			// Clean exit.
			return
		}
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.lastErr = err.Error()
		c.mu.Unlock()
		select {
		case <-c.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < c.cfg.ReconnectMax {
			backoff *= 2
			if backoff > c.cfg.ReconnectMax {
				backoff = c.cfg.ReconnectMax
			}
		}
	}
}

func (c *Client) connectAndReadLoop() (welcomed bool, err error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(c.cfg.URL, http.Header{})
	if err != nil {
		return false, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       c.cfg.AgentName,
	}
	c.mu.RLock()
	rt := strings.TrimSpace(c.resumeToken)
	c.mu.RUnlock()
	if rt != "" {
		hello.Auth = &protocol.HelloAuth{Token: rt}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.lastErr = ""
	c.mu.Unlock()
	defer func() {
		c.h.OnDisconnect(err)
	}()

	for {
		select {
		case <-c.stop:
			_ = conn.Close()
			return welcomed, nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, rerr := conn.ReadMessage()
		if rerr != nil {
			_ = conn.Close()
			select {
			case <-c.stop:
				return welcomed, nil
			default:
			}
			return welcomed, rerr
		}
		if c.cfg.Validator != nil {
			if verr := c.cfg.Validator.Validate(msg); verr != nil {
				c.drop("invalid message: %v", verr)
				continue
			}
		}
		if c.dispatch(msg) {
			welcomed = true
		}
	}
}

func (c *Client) drop(format string, args ...any) {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
	c.log.Printf(format, args...)
}

// dispatch decodes one message and hands it to the handler. It reports
// whether msg was a WELCOME.
func (c *Client) dispatch(msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		c.drop("bad message: %v", err)
		return false
	}
	if !protocol.IsSupportedVersion(base.ProtocolVersion) {
		c.drop("unsupported protocol_version %q", base.ProtocolVersion)
		return false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if !c.decode(msg, &w) {
			return false
		}
		c.mu.Lock()
		c.connected = true
		c.lastConnectedAt = time.Now()
		c.agentID = w.AgentID
		if w.ResumeToken != "" {
			c.resumeToken = w.ResumeToken
		}
		st := persistedSession{
			URL:             c.cfg.URL,
			AgentName:       c.cfg.AgentName,
			AgentID:         w.AgentID,
			ResumeToken:     c.resumeToken,
			LastConnectedAt: c.lastConnectedAt.UTC().Format(time.RFC3339Nano),
		}
		c.mu.Unlock()
		c.log.Printf("connected to %s as %s", c.cfg.URL, w.AgentID)
		if c.cfg.StateFile != "" {
			if err := saveStateFile(c.cfg.StateFile, st); err != nil {
				c.log.Printf("state file: %v", err)
			}
		}
		c.h.OnWelcome(w)
		return true

	case protocol.TypePosition:
		var p protocol.PositionMsg
		if c.decode(msg, &p) {
			c.h.OnPosition(p)
		}
	case protocol.TypeKeepAlive:
		var k protocol.KeepAliveMsg
		if c.decode(msg, &k) {
			if err := c.Send(k); err != nil {
				c.log.Printf("keepalive: %v", err)
			}
		}
	case protocol.TypeChat:
		var m protocol.ChatMsg
		if c.decode(msg, &m) {
			c.h.OnChat(m)
		}
	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if c.decode(msg, &m) {
			c.h.OnSpawn(m)
		}
	case protocol.TypeTime:
		var m protocol.TimeMsg
		if c.decode(msg, &m) {
			c.h.OnTime(m)
		}
	case protocol.TypePlayerList:
		var m protocol.PlayerListMsg
		if c.decode(msg, &m) {
			c.h.OnPlayer(m)
		}
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if c.decode(msg, &m) {
			c.h.OnError(m)
		}
	default:
		c.drop("unexpected message type %q", base.Type)
	}
	return false
}

func (c *Client) decode(msg []byte, v any) bool {
	if err := json.Unmarshal(msg, v); err != nil {
		c.drop("decode: %v", err)
		return false
	}
	return true
}
