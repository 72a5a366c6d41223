package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/transport/ws"
)

func newMux(srv *ws.Server, enableAdmin bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, srv)
	})
	if enableAdmin {
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, map[string]any{
				"agents": srv.Agents(),
				"blocks": srv.BlockCount(),
			})
		}))
		mux.HandleFunc("/admin/v1/blocks", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, srv.Blocks())
		}))
		mux.HandleFunc("/admin/v1/say", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var req struct {
				From string `json:"from"`
				Text string `json:"text"`
			}
			if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
				writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "need text"})
				return
			}
			srv.Say(req.From, req.Text)
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
		}))
		mux.HandleFunc("/admin/v1/teleport", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			var req struct {
				AgentID string  `json:"agent_id"`
				X       float64 `json:"x"`
				Y       float64 `json:"y"`
				Z       float64 `json:"z"`
				Yaw     float64 `json:"yaw"`
			}
			if err := decodeBody(r, &req); err != nil {
				writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			p := protocol.PositionMsg{X: req.X, Y: req.Y, Z: req.Z, Stance: req.Y + 1.62, Yaw: req.Yaw, OnGround: true}
			if err := srv.Teleport(req.AgentID, p); err != nil {
				writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
		}))
	}
	mux.HandleFunc("/v1/ws", srv.Handler())
	return mux
}

func writeMetrics(w io.Writer, srv *ws.Server) {
	agents := srv.Agents()
	rejected := 0
	for _, a := range agents {
		rejected += a.Rejected
	}
	fmt.Fprintf(w, "# HELP turtlecraft_world_agents Current number of connected agents.\n")
	fmt.Fprintf(w, "# TYPE turtlecraft_world_agents gauge\n")
	fmt.Fprintf(w, "turtlecraft_world_agents %d\n", len(agents))

	fmt.Fprintf(w, "# HELP turtlecraft_world_blocks Non-empty cells in the block map.\n")
	fmt.Fprintf(w, "# TYPE turtlecraft_world_blocks gauge\n")
	fmt.Fprintf(w, "turtlecraft_world_blocks %d\n", srv.BlockCount())

	fmt.Fprintf(w, "# HELP turtlecraft_world_rejected_moves Position updates rejected by the speed cap, per connected agent.\n")
	fmt.Fprintf(w, "# TYPE turtlecraft_world_rejected_moves gauge\n")
	for _, a := range agents {
		fmt.Fprintf(w, "turtlecraft_world_rejected_moves{agent=%q} %d\n", a.ID, a.Rejected)
	}
	fmt.Fprintf(w, "turtlecraft_world_rejected_moves_total %d\n", rejected)
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
