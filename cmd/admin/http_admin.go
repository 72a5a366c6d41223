package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func sayCmd(args []string) {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	from := fs.String("from", "admin", "player name the line appears from")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "usage: admin say [-from name] <text>")
		os.Exit(2)
	}
	post(*baseURL, "/admin/v1/say", map[string]any{"from": *from, "text": text})
}

func teleportCmd(args []string) {
	fs := flag.NewFlagSet("teleport", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	agent := fs.String("agent", "", "agent id (required)")
	x := fs.Float64("x", 0.5, "x")
	y := fs.Float64("y", 64, "y")
	z := fs.Float64("z", 0.5, "z")
	yaw := fs.Float64("yaw", 0, "yaw in degrees")
	_ = fs.Parse(args)

	if strings.TrimSpace(*agent) == "" {
		fmt.Fprintln(os.Stderr, "missing -agent")
		os.Exit(2)
	}
	post(*baseURL, "/admin/v1/teleport", map[string]any{"agent_id": *agent, "x": *x, "y": *y, "z": *z, "yaw": *yaw})
}

func post(baseURL, path string, body any) {
	b, _ := json.Marshal(body)
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(out)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
