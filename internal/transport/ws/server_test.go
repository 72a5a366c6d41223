package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"turtlecraft.ai/internal/persistence/snapshot"
	"turtlecraft.ai/internal/protocol"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func join(t *testing.T, url, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: name}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn
}

// readType reads until a message of type typ arrives and decodes it into v.
func readType(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type != typ {
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
		return
	}
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServer_HandshakeAndSpeedCap(t *testing.T) {
	srv, url := startServer(t, ServerConfig{MaxStep: 0.5, SpawnY: 64})
	conn := join(t, url, "turtle")

	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)
	if w.AgentID != "A1" || w.WorldParams.MaxStep != 0.5 || w.WorldParams.MaxY != 127 {
		t.Fatalf("welcome=%+v", w)
	}
	var spawn protocol.PositionMsg
	readType(t, conn, protocol.TypePosition, &spawn)
	if spawn.X != 0.5 || spawn.Y != 64 || spawn.Z != 0.5 || !spawn.OnGround {
		t.Fatalf("spawn position=%+v", spawn)
	}

	ok := spawn
	ok.Z += 0.5
	if err := conn.WriteJSON(ok); err != nil {
		t.Fatalf("write: %v", err)
	}
	far := ok
	far.Z += 5
	if err := conn.WriteJSON(far); err != nil {
		t.Fatalf("write: %v", err)
	}

	var e protocol.ErrorMsg
	readType(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrSpeed {
		t.Fatalf("error=%+v", e)
	}
	var back protocol.PositionMsg
	readType(t, conn, protocol.TypePosition, &back)
	if back.Z != ok.Z {
		t.Fatalf("corrected to z=%v want=%v", back.Z, ok.Z)
	}
	agents := srv.Agents()
	if len(agents) != 1 || agents[0].Rejected != 1 || agents[0].Position.Z != ok.Z {
		t.Fatalf("agents=%+v", agents)
	}
}

func TestServer_HoldPlaceDig(t *testing.T) {
	srv, url := startServer(t, ServerConfig{})
	conn := join(t, url, "turtle")
	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	send(protocol.HoldMsg{Type: protocol.TypeHold, Item: 35, Uses: 2})
	send(protocol.PlaceMsg{Type: protocol.TypePlace, X: 3, Y: 62, Z: -1, Face: protocol.FaceTop})
	target := BlockPos{X: 3, Y: 63, Z: -1}
	eventually(t, "placed block", func() bool {
		item, ok := srv.Block(target)
		return ok && item == 35
	})
	if held := srv.Agents()[0].Held; held.Uses != 1 {
		t.Fatalf("held=%+v want one use left", held)
	}

	send(protocol.DigMsg{Type: protocol.TypeDig, X: 3, Y: 63, Z: -1})
	eventually(t, "dug block", func() bool {
		_, ok := srv.Block(target)
		return !ok
	})

	send(protocol.PlaceMsg{Type: protocol.TypePlace, X: 0, Y: 127, Z: 0, Face: protocol.FaceTop, Item: 1})
	var e protocol.ErrorMsg
	readType(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrInvalidTarget {
		t.Fatalf("error=%+v", e)
	}
	if srv.BlockCount() != 0 {
		t.Fatalf("blocks=%d want=0", srv.BlockCount())
	}
}

func TestServer_ChatAndPresence(t *testing.T) {
	srv, url := startServer(t, ServerConfig{})
	alice := join(t, url, "alice")
	var w protocol.WelcomeMsg
	readType(t, alice, protocol.TypeWelcome, &w)
	eventually(t, "alice joined", func() bool { return len(srv.Agents()) == 1 })

	bob := join(t, url, "bob")
	readType(t, bob, protocol.TypeWelcome, &w)
	var pl protocol.PlayerListMsg
	readType(t, bob, protocol.TypePlayerList, &pl)
	if pl.Name != "alice" || !pl.Online {
		t.Fatalf("bob saw %+v", pl)
	}
	readType(t, alice, protocol.TypePlayerList, &pl)
	for pl.Name != "bob" {
		readType(t, alice, protocol.TypePlayerList, &pl)
	}

	if err := alice.WriteJSON(protocol.ChatMsg{Type: protocol.TypeChat, Text: "fd 1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var c protocol.ChatMsg
	readType(t, bob, protocol.TypeChat, &c)
	if c.From != "alice" || c.Text != "<alice> fd 1" {
		t.Fatalf("chat=%+v", c)
	}

	bob.Close()
	for {
		readType(t, alice, protocol.TypePlayerList, &pl)
		if pl.Name == "bob" && !pl.Online {
			break
		}
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	_, url := startServer(t, ServerConfig{})
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", AgentName: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var e protocol.ErrorMsg
	readType(t, conn, protocol.TypeError, &e)
	if e.Code != protocol.ErrProtoVersion {
		t.Fatalf("error=%+v", e)
	}
}

func TestServer_ResumeKeepsAgentAndPosition(t *testing.T) {
	srv, url := startServer(t, ServerConfig{MaxStep: 1})
	conn := join(t, url, "turtle")
	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)
	if w.ResumeToken == "" {
		t.Fatalf("welcome without resume token: %+v", w)
	}
	var p protocol.PositionMsg
	readType(t, conn, protocol.TypePosition, &p)
	p.X += 1
	if err := conn.WriteJSON(p); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, "move accepted", func() bool {
		a := srv.Agents()
		return len(a) == 1 && a[0].Position.X == p.X
	})
	conn.Close()
	eventually(t, "leave", func() bool { return len(srv.Agents()) == 0 })

	again, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer again.Close()
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "turtle",
		Auth: &protocol.HelloAuth{Token: w.ResumeToken}}
	if err := again.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var w2 protocol.WelcomeMsg
	readType(t, again, protocol.TypeWelcome, &w2)
	if w2.AgentID != w.AgentID || w2.ResumeToken != w.ResumeToken {
		t.Fatalf("resumed welcome=%+v first=%+v", w2, w)
	}
	var p2 protocol.PositionMsg
	readType(t, again, protocol.TypePosition, &p2)
	if p2.X != p.X {
		t.Fatalf("resumed at x=%v want=%v", p2.X, p.X)
	}

	// A token is single use.
	third := join(t, url, "other")
	var w3 protocol.WelcomeMsg
	readType(t, third, protocol.TypeWelcome, &w3)
	if w3.AgentID == w.AgentID {
		t.Fatalf("fresh join reused agent id %s", w3.AgentID)
	}
}

func TestServer_SnapshotRestore(t *testing.T) {
	srv, url := startServer(t, ServerConfig{MaxY: 100})
	err := srv.Restore(snapshot.WorldV1{
		NextID:    7,
		WorldTime: 1200,
		Blocks: []snapshot.Block{
			{X: 1, Y: 63, Z: 1, Item: 35},
			{X: 1, Y: 200, Z: 1, Item: 35},
		},
		Agents: []snapshot.Agent{{ID: "A3", Name: "turtle", Token: "tok-3",
			Pos: protocol.PositionMsg{Type: protocol.TypePosition, X: 4.5, Y: 64, Z: 4.5, Stance: 65.62}}},
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if srv.BlockCount() != 1 {
		t.Fatalf("blocks=%d want=1 (out of range dropped)", srv.BlockCount())
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "turtle",
		Auth: &protocol.HelloAuth{Token: "tok-3"}}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var w protocol.WelcomeMsg
	readType(t, conn, protocol.TypeWelcome, &w)
	if w.AgentID != "A3" {
		t.Fatalf("agent=%s want=A3", w.AgentID)
	}
	var p protocol.PositionMsg
	readType(t, conn, protocol.TypePosition, &p)
	if p.X != 4.5 || p.Z != 4.5 {
		t.Fatalf("position=%+v", p)
	}
	fresh := join(t, url, "other")
	readType(t, fresh, protocol.TypeWelcome, &w)
	if w.AgentID != "A8" {
		t.Fatalf("fresh agent=%s want=A8", w.AgentID)
	}

	eventually(t, "both joined", func() bool { return len(srv.Agents()) == 2 })
	if err := srv.Restore(snapshot.WorldV1{}); err == nil {
		t.Fatalf("restore with live sessions should fail")
	}
	snap := srv.Snapshot(time.Now())
	if len(snap.Blocks) != 1 || len(snap.Agents) != 2 || snap.NextID != 8 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Agents[0].ID != "A3" || snap.Agents[0].Token != "tok-3" {
		t.Fatalf("agents=%+v", snap.Agents)
	}
}
