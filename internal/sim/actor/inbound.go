package actor

import (
	"regexp"
	"strings"

	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/sim/motion"
)

type disconnected struct{ err error }

// The methods below are the transport's inbound callbacks. They run on the
// transport goroutine and only post to the actor's inbox.

func (a *Actor) OnWelcome(m protocol.WelcomeMsg) { a.post(m) }
func (a *Actor) OnPosition(m protocol.PositionMsg) { a.post(m) }
func (a *Actor) OnChat(m protocol.ChatMsg) { a.post(m) }
func (a *Actor) OnSpawn(m protocol.SpawnMsg) { a.post(m) }
func (a *Actor) OnTime(m protocol.TimeMsg) { a.post(m) }
func (a *Actor) OnPlayer(m protocol.PlayerListMsg) { a.post(m) }
func (a *Actor) OnError(m protocol.ErrorMsg) { a.post(m) }
func (a *Actor) OnDisconnect(err error) { a.post(disconnected{err: err}) }

func (a *Actor) post(v any) {
	select {
	case a.inbox <- v:
	case <-a.done:
	}
}

func (a *Actor) handle(v any) {
	switch m := v.(type) {
	case protocol.WelcomeMsg:
		a.agentID = m.AgentID
		wp := m.WorldParams
		if wp.MaxStep > 0 && wp.MaxStep < a.ctl.MaxStep() {
			a.ctl.SetMaxStep(wp.MaxStep)
		}
		if wp.MaxY > wp.MinY {
			a.bounds.MinY = wp.MinY
			a.bounds.MaxY = wp.MaxY
		}
		a.log.Printf("welcome agent_id=%s max_step=%g y=[%d,%d]", m.AgentID, a.ctl.MaxStep(), a.bounds.MinY, a.bounds.MaxY)

	case protocol.PositionMsg:
		p := motion.FromMsg(m)
		wasReady := a.ctl.Ready()
		busy := a.ctl.Busy()
		differed, err := a.ctl.Correct(p)
		if err != nil {
			a.log.Printf("echo position: %v", err)
		}
		if differed && wasReady {
			a.log.Printf("authoritative correction to (%.2f, %.2f, %.2f) busy=%v", p.X, p.Y, p.Z, busy)
			a.rec.Record(Event{Time: a.cfg.Now(), Kind: EventCorrection, Agent: a.cfg.Name, Pos: &p})
		}
		a.settle()
		a.advance()

	case protocol.ChatMsg:
		a.chatReceived(m)

	case protocol.SpawnMsg:
		a.spawn = &Spawn{X: m.X, Y: m.Y, Z: m.Z}

	case protocol.TimeMsg:
		a.worldTime = m.Time

	case protocol.PlayerListMsg:
		if m.Online {
			a.players[m.Name] = m.Ping
		} else {
			delete(a.players, m.Name)
		}

	case protocol.ErrorMsg:
		a.log.Printf("server error %s: %s", m.Code, m.Message)

	case disconnected:
		a.log.Printf("disconnected: %v", m.err)
		a.ctl.Detach()
		a.settle()
		a.players = map[string]int{}
		a.rec.Record(Event{Time: a.cfg.Now(), Kind: EventDisconnect, Agent: a.cfg.Name})
	}
}

var chatLine = regexp.MustCompile(`^<([^>]+)> (.+)$`)

func (a *Actor) chatReceived(m protocol.ChatMsg) {
	from, body := m.From, m.Text
	if sub := chatLine.FindStringSubmatch(m.Text); sub != nil {
		from, body = sub[1], sub[2]
	}
	if from == a.cfg.Name {
		return
	}
	if p := a.cfg.ChatPrefix; p != "" {
		if !strings.HasPrefix(body, p) {
			return
		}
		body = strings.TrimPrefix(body, p)
	}
	if strings.TrimSpace(body) == "" {
		return
	}
	_, err := a.EnqueueFrom("chat:"+from, body)
	if err == nil {
		return
	}
	a.log.Printf("chat from %s: %v", from, err)
	// Only lines addressed with the prefix get a reply.
	if a.cfg.ChatPrefix == "" {
		return
	}
	reply := protocol.ChatMsg{Type: protocol.TypeChat, Text: from + ": " + err.Error()}
	if err := a.tr.Send(reply); err != nil {
		a.log.Printf("chat reply: %v", err)
	}
}
