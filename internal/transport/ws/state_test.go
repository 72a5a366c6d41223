package ws

import (
	"path/filepath"
	"testing"

	"turtlecraft.ai/internal/protocol"
)

type nopHandler struct{}

func (nopHandler) OnWelcome(protocol.WelcomeMsg)   {}
func (nopHandler) OnPosition(protocol.PositionMsg) {}
func (nopHandler) OnChat(protocol.ChatMsg)         {}
func (nopHandler) OnSpawn(protocol.SpawnMsg)       {}
func (nopHandler) OnTime(protocol.TimeMsg)         {}
func (nopHandler) OnPlayer(protocol.PlayerListMsg) {}
func (nopHandler) OnError(protocol.ErrorMsg)       {}
func (nopHandler) OnDisconnect(error)              {}

func TestClient_PersistsResumeToken(t *testing.T) {
	srv, url := startServer(t, ServerConfig{})
	path := filepath.Join(t.TempDir(), "session.json")

	cli := NewClient(ClientConfig{URL: url, AgentName: "turtle", StateFile: path}, nil)
	cli.Start(nopHandler{})
	eventually(t, "connected", cli.Connected)
	first := cli.Status().AgentID
	cli.Close()
	eventually(t, "leave", func() bool { return len(srv.Agents()) == 0 })

	st, err := loadStateFile(path)
	if err != nil {
		t.Fatalf("loadStateFile: %v", err)
	}
	if st.ResumeToken == "" || st.AgentID != first || st.connectedTime().IsZero() {
		t.Fatalf("state=%+v", st)
	}

	again := NewClient(ClientConfig{URL: url, AgentName: "turtle", StateFile: path}, nil)
	again.Start(nopHandler{})
	defer again.Close()
	eventually(t, "reconnected", again.Connected)
	if got := again.Status().AgentID; got != first {
		t.Fatalf("agent id=%s want resumed %s", got, first)
	}

	other := NewClient(ClientConfig{URL: url, AgentName: "someone-else", StateFile: path}, nil)
	if other.resumeToken != "" {
		t.Fatalf("state for another agent name must not be reused")
	}
}
