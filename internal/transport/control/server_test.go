package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/persistence/indexdb"
	"turtlecraft.ai/internal/sim/actor"
	"turtlecraft.ai/internal/sim/motion"
)

type fakeDriver struct {
	queued  []string
	sources []string
}

func (d *fakeDriver) EnqueueFrom(source, text string) (string, error) {
	if _, err := logo.Parse(text); err != nil {
		return "", err
	}
	d.queued = append(d.queued, text)
	d.sources = append(d.sources, source)
	return "cmd-" + text, nil
}

func (d *fakeDriver) Status() actor.Status {
	return actor.Status{Name: "turtle", Ready: true, Position: motion.Position{X: 1, Y: 64, Z: 2}, Pending: len(d.queued)}
}

type fakeHistory struct{}

func (fakeHistory) RecentCommands(ctx context.Context, limit int) ([]indexdb.CommandRow, error) {
	return []indexdb.CommandRow{{ID: "c1", Text: "fd 1", Status: "completed", Instructions: 1}}, nil
}

func (fakeHistory) Instructions(ctx context.Context, id string) ([]indexdb.InstructionRow, error) {
	if id != "c1" {
		return nil, nil
	}
	return []indexdb.InstructionRow{{Seq: 1, Op: "fd", Arg: 1, OK: true, Ticks: 2}}, nil
}

func newTestServer(t *testing.T, secret string) (*Server, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	s, err := NewServer(Config{Driver: d, History: fakeHistory{}, HMACSecret: secret})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, d
}

func TestCommands_AcceptAndReject(t *testing.T) {
	s, d := newTestServer(t, "")
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{"text":"repeat 4 [fd 2; rt 90]"}`)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp commandResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID == "" || len(d.queued) != 1 || d.sources[0] != "http" {
		t.Fatalf("resp=%+v queued=%v", resp, d.queued)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(`{"text":"setpen 1"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	resp = commandResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Offset == nil || !strings.Contains(resp.Error, "syntax error") {
		t.Fatalf("resp=%+v", resp)
	}
	if len(d.queued) != 1 {
		t.Fatalf("syntax error should queue nothing: %v", d.queued)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/commands", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestStatusAndHealth(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 || rr.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	var st actor.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !st.Ready || st.Position.X != 1 || st.Position.Z != 2 {
		t.Fatalf("status=%+v", st)
	}
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=5", nil))
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"id":"c1"`) {
		t.Fatalf("history=%d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?id=c1", nil))
	var e historyEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.ID != "c1" || len(e.Steps) != 1 || e.Steps[0].Ticks != 2 {
		t.Fatalf("entry=%+v", e)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?id=nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history?limit=x", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCommands_SignedRequests(t *testing.T) {
	s, d := newTestServer(t, "s3cret")
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	h := s.Handler()

	body := []byte(`{"text":"pd; fd 3"}`)
	signed := func(secret string, at time.Time) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(body))
		for k, v := range Sign(secret, "console-1", "n1", http.MethodPost, "/v1/commands", body, at) {
			req.Header[k] = v
		}
		return req
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/commands", bytes.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signed("wrong", now))
	if rr.Code != http.StatusUnauthorized || rr.Body.String() != "bad signature" {
		t.Fatalf("bad secret status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signed("s3cret", now.Add(-10*time.Minute)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("stale status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signed("s3cret", now))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("signed status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(d.sources) != 1 || d.sources[0] != "http:console-1" {
		t.Fatalf("sources=%v", d.sources)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signed("s3cret", now))
	if rr.Code != http.StatusConflict {
		t.Fatalf("replay status=%d", rr.Code)
	}
}

func TestReplayGuard_Expires(t *testing.T) {
	g := newReplayGuard(time.Minute)
	now := time.Unix(100, 0)
	if !g.allow("a", "sig", now) {
		t.Fatalf("first use should be allowed")
	}
	if g.allow("a", "sig", now.Add(30*time.Second)) {
		t.Fatalf("replay within ttl should be rejected")
	}
	if !g.allow("b", "sig", now) {
		t.Fatalf("other client should be allowed")
	}
	if !g.allow("a", "sig", now.Add(2*time.Minute)) {
		t.Fatalf("expired entry should be allowed again")
	}
}
