// Package control serves the bot's local HTTP control surface.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/persistence/indexdb"
	"turtlecraft.ai/internal/sim/actor"
)

// Driver is the part of the actor the control surface needs.
type Driver interface {
	EnqueueFrom(source, text string) (string, error)
	Status() actor.Status
}

// History answers command history queries. It is optional.
type History interface {
	RecentCommands(ctx context.Context, limit int) ([]indexdb.CommandRow, error)
	Instructions(ctx context.Context, commandID string) ([]indexdb.InstructionRow, error)
}

type Config struct {
	Driver  Driver
	History History
	// HMACSecret enables signed requests on mutating endpoints.
	HMACSecret string
	Logger     *log.Logger
}

type Server struct {
	driver  Driver
	history History
	secret  []byte
	guard   *replayGuard
	log     *log.Logger
	now     func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("nil driver")
	}
	s := &Server{
		driver:  cfg.Driver,
		history: cfg.History,
		log:     cfg.Logger,
		now:     time.Now,
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.secret = []byte(cfg.HMACSecret)
		s.guard = newReplayGuard(0)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/commands", s.handleCommands)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/history", s.handleHistory)
	return mux
}

type commandRequest struct {
	Text string `json:"text"`
}

type commandResponse struct {
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
	Offset *int   `json:"offset,omitempty"`
}

func (s *Server) handleCommands(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte("bad body"))
		return
	}
	_ = r.Body.Close()

	source := "http"
	if len(s.secret) > 0 {
		vr := verifyHMAC(r, body, s.secret, s.now())
		if vr.HTTPStatus != 0 {
			rw.WriteHeader(vr.HTTPStatus)
			_, _ = rw.Write([]byte(vr.Message))
			return
		}
		if !s.guard.allow(vr.ClientID, vr.Signature, s.now()) {
			rw.WriteHeader(http.StatusConflict)
			_, _ = rw.Write([]byte("replayed request"))
			return
		}
		source = "http:" + vr.ClientID
	}

	var req commandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(rw, http.StatusBadRequest, commandResponse{Error: "bad json: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(rw, http.StatusBadRequest, commandResponse{Error: "missing text"})
		return
	}

	id, err := s.driver.EnqueueFrom(source, req.Text)
	if err != nil {
		resp := commandResponse{Error: err.Error()}
		var se *logo.SyntaxError
		if errors.As(err, &se) {
			off := se.Offset
			resp.Offset = &off
		}
		writeJSON(rw, http.StatusBadRequest, resp)
		return
	}
	s.log.Printf("control: queued %s from %s: %q", id, source, req.Text)
	writeJSON(rw, http.StatusAccepted, commandResponse{ID: id})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, s.driver.Status())
}

type historyEntry struct {
	indexdb.CommandRow
	Steps []indexdb.InstructionRow `json:"steps,omitempty"`
}

// handleHistory lists recent commands; ?id= returns one command with its
// instructions.
func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": "history index disabled"})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "bad limit"})
			return
		}
		limit = n
	}
	id := r.URL.Query().Get("id")

	rows, err := s.history.RecentCommands(r.Context(), limit)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if id == "" {
		writeJSON(rw, http.StatusOK, map[string]any{"commands": rows})
		return
	}
	steps, err := s.history.Instructions(r.Context(), id)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	for _, row := range rows {
		if row.ID == id {
			writeJSON(rw, http.StatusOK, historyEntry{CommandRow: row, Steps: steps})
			return
		}
	}
	if len(steps) > 0 {
		writeJSON(rw, http.StatusOK, historyEntry{CommandRow: indexdb.CommandRow{ID: id}, Steps: steps})
		return
	}
	writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown command"})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("content-type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
