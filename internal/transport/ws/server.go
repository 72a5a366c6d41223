package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"turtlecraft.ai/internal/persistence/snapshot"
	"turtlecraft.ai/internal/protocol"
)

// ServerConfig describes the reference world the server simulates.
type ServerConfig struct {
	TickRateHz int
	MaxStep    float64
	// Slack is the fraction above MaxStep a single update may move before
	// it is rejected.
	Slack float64
	MinY  int
	MaxY  int

	SpawnX int
	SpawnY int
	SpawnZ int

	BroadcastEvery time.Duration
}

func (c *ServerConfig) normalize() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.MaxStep <= 0 {
		c.MaxStep = 0.5
	}
	if c.Slack <= 0 {
		c.Slack = 0.01
	}
	if c.MaxY <= c.MinY {
		c.MinY, c.MaxY = 0, 127
	}
	if c.SpawnY == 0 {
		c.SpawnY = 64
	}
	if c.BroadcastEvery <= 0 {
		c.BroadcastEvery = time.Second
	}
}

const maxParked = 1024

type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// AgentInfo is an admin view of one connected agent.
type AgentInfo struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Position protocol.PositionMsg `json:"position"`
	Held     protocol.HoldMsg     `json:"held"`
	Rejected int                  `json:"rejected"`
}

type session struct {
	id    string
	name  string
	token string
	out   chan []byte

	// Guarded by Server.mu.
	pos      protocol.PositionMsg
	held     protocol.HoldMsg
	rejected int
}

// Server is the reference world authority: it accepts agents over
// websocket, enforces the per-update speed cap and keeps a block map.
type Server struct {
	cfg ServerConfig
	log *log.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	sessions  map[string]*session
	parked    map[string]*session
	blocks    map[BlockPos]int
	nextID    int
	worldTime int64
	keepAlive int64
	dropped   uint64
}

func NewServer(cfg ServerConfig, logger *log.Logger) *Server {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
		parked:   map[string]*session{},
		blocks:   map[BlockPos]int{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.leave(sess)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			s.handleMessage(sess, msg)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrProtoVersion, Message: "unsupported protocol_version"})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	name := strings.TrimSpace(hello.AgentName)
	if name == "" {
		name = "agent"
	}

	spawn := protocol.PositionMsg{
		Type:     protocol.TypePosition,
		X:        float64(s.cfg.SpawnX) + 0.5,
		Y:        float64(s.cfg.SpawnY),
		Z:        float64(s.cfg.SpawnZ) + 0.5,
		Stance:   float64(s.cfg.SpawnY) + 1.62,
		OnGround: true,
	}

	s.mu.Lock()
	sess := s.resumeLocked(hello.Auth)
	if sess == nil {
		s.nextID++
		sess = &session{
			id:    fmt.Sprintf("A%d", s.nextID),
			token: uuid.NewString(),
			pos:   spawn,
		}
	}
	sess.name = name
	sess.out = make(chan []byte, 64)
	start := sess.pos
	others := make([]string, 0, len(s.sessions))
	for _, o := range s.sessions {
		others = append(others, o.name)
	}
	s.mu.Unlock()
	sort.Strings(others)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         sess.id,
		ResumeToken:     sess.token,
		WorldParams: protocol.WorldParams{
			TickRateHz: s.cfg.TickRateHz,
			MaxStep:    s.cfg.MaxStep,
			MinY:       s.cfg.MinY,
			MaxY:       s.cfg.MaxY,
		},
	}
	first := []any{
		welcome,
		protocol.SpawnMsg{Type: protocol.TypeSpawn, X: s.cfg.SpawnX, Y: s.cfg.SpawnY, Z: s.cfg.SpawnZ},
	}
	for _, n := range others {
		first = append(first, protocol.PlayerListMsg{Type: protocol.TypePlayerList, Name: n, Online: true})
	}
	first = append(first, start)
	for _, m := range first {
		if err := writeJSON(conn, m); err != nil {
			return nil
		}
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.broadcast(protocol.PlayerListMsg{Type: protocol.TypePlayerList, Name: name, Online: true})
	s.log.Printf("join %s (%s)", sess.id, name)
	return sess
}

// resumeLocked returns the parked session a HELLO token refers to, if any.
func (s *Server) resumeLocked(auth *protocol.HelloAuth) *session {
	if auth == nil || auth.Token == "" {
		return nil
	}
	sess, ok := s.parked[auth.Token]
	if !ok {
		return nil
	}
	delete(s.parked, auth.Token)
	if _, live := s.sessions[sess.id]; live {
		return nil
	}
	return sess
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	if len(s.parked) >= maxParked {
		s.parked = map[string]*session{}
	}
	s.parked[sess.token] = sess
	s.mu.Unlock()
	s.broadcast(protocol.PlayerListMsg{Type: protocol.TypePlayerList, Name: sess.name, Online: false})
	s.log.Printf("leave %s (%s)", sess.id, sess.name)
}

func (s *Server) handleMessage(sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.sendError(sess, protocol.ErrProtoBadRequest, "bad json")
		return
	}
	if !protocol.IsSupportedVersion(base.ProtocolVersion) {
		s.sendError(sess, protocol.ErrProtoVersion, "unsupported protocol_version")
		return
	}
	switch base.Type {
	case protocol.TypePosition:
		var p protocol.PositionMsg
		if json.Unmarshal(msg, &p) != nil {
			s.sendError(sess, protocol.ErrBadRequest, "bad POSITION")
			return
		}
		s.move(sess, p)
	case protocol.TypeKeepAlive:
		// Echo of our own keepalive.
	case protocol.TypeChat:
		var c protocol.ChatMsg
		if json.Unmarshal(msg, &c) != nil || strings.TrimSpace(c.Text) == "" {
			s.sendError(sess, protocol.ErrBadRequest, "bad CHAT")
			return
		}
		s.Say(sess.name, c.Text)
	case protocol.TypeDig:
		var d protocol.DigMsg
		if json.Unmarshal(msg, &d) != nil {
			s.sendError(sess, protocol.ErrBadRequest, "bad DIG")
			return
		}
		s.dig(sess, BlockPos{X: d.X, Y: d.Y, Z: d.Z})
	case protocol.TypePlace:
		var p protocol.PlaceMsg
		if json.Unmarshal(msg, &p) != nil {
			s.sendError(sess, protocol.ErrBadRequest, "bad PLACE")
			return
		}
		s.place(sess, p)
	case protocol.TypeHold:
		var h protocol.HoldMsg
		if json.Unmarshal(msg, &h) != nil || h.Uses < 0 {
			s.sendError(sess, protocol.ErrBadRequest, "bad HOLD")
			return
		}
		s.mu.Lock()
		sess.held = h
		s.mu.Unlock()
	default:
		s.sendError(sess, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
}

// move accepts p unless it travels further than the speed cap from the last
// accepted position, in which case the agent is sent back there.
func (s *Server) move(sess *session, p protocol.PositionMsg) {
	s.mu.Lock()
	last := sess.pos
	dx, dy, dz := p.X-last.X, p.Y-last.Y, p.Z-last.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	limit := s.cfg.MaxStep * (1 + s.cfg.Slack)
	ok := dist <= limit && !math.IsNaN(dist) && p.Y >= float64(s.cfg.MinY)
	if ok {
		p.Type = protocol.TypePosition
		p.ProtocolVersion = ""
		sess.pos = p
	} else {
		sess.rejected++
	}
	s.mu.Unlock()

	if ok {
		return
	}
	s.sendTo(sess, protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrSpeed, Message: fmt.Sprintf("moved %.3f > %.3f", dist, limit)})
	s.sendTo(sess, last)
}

func (s *Server) inBounds(y int) bool {
	return y >= s.cfg.MinY && y <= s.cfg.MaxY
}

func (s *Server) dig(sess *session, b BlockPos) {
	if !s.inBounds(b.Y) {
		s.sendError(sess, protocol.ErrInvalidTarget, "y out of range")
		return
	}
	s.mu.Lock()
	delete(s.blocks, b)
	s.mu.Unlock()
}

var faceOffsets = [6]BlockPos{
	protocol.FaceBottom: {Y: -1},
	protocol.FaceTop:    {Y: 1},
	protocol.FaceNorth:  {Z: -1},
	protocol.FaceSouth:  {Z: 1},
	protocol.FaceWest:   {X: -1},
	protocol.FaceEast:   {X: 1},
}

// place puts the item against the given face of the target block.
func (s *Server) place(sess *session, p protocol.PlaceMsg) {
	if p.Face < 0 || p.Face >= len(faceOffsets) {
		s.sendError(sess, protocol.ErrBadRequest, "bad face")
		return
	}
	off := faceOffsets[p.Face]
	b := BlockPos{X: p.X + off.X, Y: p.Y + off.Y, Z: p.Z + off.Z}
	if !s.inBounds(b.Y) {
		s.sendError(sess, protocol.ErrInvalidTarget, "y out of range")
		return
	}

	s.mu.Lock()
	item := p.Item
	if item == 0 {
		item = sess.held.Item
	}
	switch {
	case item == 0:
		s.mu.Unlock()
		s.sendError(sess, protocol.ErrBadRequest, "nothing held")
		return
	case sess.held.Item == item && sess.held.Uses > 0:
		sess.held.Uses--
	}
	s.blocks[b] = item
	s.mu.Unlock()
}

// Snapshot captures the block map and every session, connected or parked, as
// resumable agents.
func (s *Server) Snapshot(now time.Time) snapshot.WorldV1 {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot.WorldV1{
		Header:    snapshot.Header{SavedAt: now.UTC()},
		MinY:      s.cfg.MinY,
		MaxY:      s.cfg.MaxY,
		NextID:    s.nextID,
		WorldTime: s.worldTime,
		Blocks:    make([]snapshot.Block, 0, len(s.blocks)),
	}
	for b, item := range s.blocks {
		snap.Blocks = append(snap.Blocks, snapshot.Block{X: b.X, Y: b.Y, Z: b.Z, Item: item})
	}
	sort.Slice(snap.Blocks, func(i, j int) bool {
		a, b := snap.Blocks[i], snap.Blocks[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	add := func(sess *session) {
		snap.Agents = append(snap.Agents, snapshot.Agent{ID: sess.id, Name: sess.name, Token: sess.token, Pos: sess.pos, Held: sess.held})
	}
	for _, sess := range s.sessions {
		add(sess)
	}
	for _, sess := range s.parked {
		add(sess)
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	return snap
}

// Restore loads a snapshot into a server that has no sessions yet. Blocks
// outside the configured height range are dropped.
func (s *Server) Restore(snap snapshot.WorldV1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) > 0 {
		return fmt.Errorf("restore with %d connected sessions", len(s.sessions))
	}
	s.blocks = make(map[BlockPos]int, len(snap.Blocks))
	for _, b := range snap.Blocks {
		if !s.inBounds(b.Y) || b.Item == 0 {
			continue
		}
		s.blocks[BlockPos{X: b.X, Y: b.Y, Z: b.Z}] = b.Item
	}
	s.parked = make(map[string]*session, len(snap.Agents))
	for _, a := range snap.Agents {
		if a.Token == "" {
			continue
		}
		s.parked[a.Token] = &session{id: a.ID, name: a.Name, token: a.Token, pos: a.Pos, held: a.Held}
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	s.worldTime = snap.WorldTime
	return nil
}

// Say broadcasts a chat line from the named player.
func (s *Server) Say(from, text string) {
	line := text
	if from != "" {
		line = "<" + from + "> " + text
	}
	s.broadcast(protocol.ChatMsg{Type: protocol.TypeChat, From: from, Text: line})
}

// Teleport forces an authoritative position on an agent.
func (s *Server) Teleport(agentID string, p protocol.PositionMsg) error {
	p.Type = protocol.TypePosition
	p.ProtocolVersion = ""
	s.mu.Lock()
	sess, ok := s.sessions[agentID]
	if ok {
		sess.pos = p
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	s.sendTo(sess, p)
	return nil
}

// Block returns the item at b, if any.
func (s *Server) Block(b BlockPos) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.blocks[b]
	return item, ok
}

// PlacedBlock is one non-empty cell of the block map.
type PlacedBlock struct {
	BlockPos
	Item int `json:"item"`
}

// Blocks lists the block map ordered by y, then z, then x.
func (s *Server) Blocks() []PlacedBlock {
	s.mu.Lock()
	out := make([]PlacedBlock, 0, len(s.blocks))
	for b, item := range s.blocks {
		out = append(out, PlacedBlock{BlockPos: b, Item: item})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}

func (s *Server) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func (s *Server) Agents() []AgentInfo {
	s.mu.Lock()
	out := make([]AgentInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, AgentInfo{ID: sess.id, Name: sess.name, Position: sess.pos, Held: sess.held, Rejected: sess.rejected})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run advances world time and sends TIME and KEEPALIVE every BroadcastEvery.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BroadcastEvery)
	defer ticker.Stop()
	ticksPer := int64(s.cfg.BroadcastEvery / (time.Second / time.Duration(s.cfg.TickRateHz)))
	if ticksPer < 1 {
		ticksPer = 1
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.worldTime += ticksPer
			s.keepAlive++
			now, ka := s.worldTime, s.keepAlive
			s.mu.Unlock()
			s.broadcast(protocol.TimeMsg{Type: protocol.TypeTime, Time: now})
			s.broadcast(protocol.KeepAliveMsg{Type: protocol.TypeKeepAlive, ID: ka})
		}
	}
}

func (s *Server) sendError(sess *session, code, message string) {
	s.sendTo(sess, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}

func (s *Server) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()
	for _, sess := range targets {
		s.enqueue(sess, b)
	}
}

func (s *Server) sendTo(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.enqueue(sess, b)
}

// enqueue drops b when the client's queue is full.
func (s *Server) enqueue(sess *session, b []byte) {
	select {
	case sess.out <- b:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
