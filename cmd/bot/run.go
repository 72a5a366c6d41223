package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	eventlog "turtlecraft.ai/internal/persistence/log"
	"turtlecraft.ai/internal/persistence/indexdb"
	"turtlecraft.ai/internal/protocol"
	"turtlecraft.ai/internal/sim/actor"
	"turtlecraft.ai/internal/sim/motion"
	"turtlecraft.ai/internal/sim/pen"
	"turtlecraft.ai/internal/sim/tuning"
	"turtlecraft.ai/internal/transport/control"
	"turtlecraft.ai/internal/transport/ws"
)

type runOptions struct {
	config     string
	url        string
	name       string
	dataDir    string
	listen     string
	secret     string
	chatPrefix string
	tickMs     int
	maxStep    float64
	strict     bool
	noJournal  bool
	noIndex    bool
	console    bool
	exec       []string
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the world server and execute queued commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadTuning(cmd, o)
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), t, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.config, "config", "c", "", "path to bot.yaml (optional)")
	f.StringVar(&o.url, "url", "", "world websocket url")
	f.StringVar(&o.name, "name", "", "agent name")
	f.StringVar(&o.dataDir, "data", "", "data directory for the journal, index and session state")
	f.StringVar(&o.listen, "listen", "", "control http listen address, e.g. 127.0.0.1:9090 (empty disables)")
	f.StringVar(&o.secret, "control-secret", "", "HMAC secret for control requests (or TURTLE_CONTROL_SECRET)")
	f.StringVar(&o.chatPrefix, "chat-prefix", "", "only chat lines starting with this prefix are commands")
	f.IntVar(&o.tickMs, "tick-ms", 0, "tick period in milliseconds")
	f.Float64Var(&o.maxStep, "max-step", 0, "maximum blocks moved per tick")
	f.BoolVar(&o.strict, "strict", false, "validate inbound messages against the protocol schemas")
	f.BoolVar(&o.noJournal, "no-journal", false, "disable the event journal")
	f.BoolVar(&o.noIndex, "no-index", false, "disable the sqlite command index")
	f.BoolVar(&o.console, "console", false, "read commands from stdin")
	f.StringArrayVarP(&o.exec, "exec", "e", nil, "command line to queue once connected (repeatable)")
	return cmd
}

// loadTuning applies bot.yaml, then the environment, then flags that were set.
func loadTuning(cmd *cobra.Command, o runOptions) (tuning.Tuning, error) {
	t, err := tuning.Load(o.config)
	if err != nil {
		return t, err
	}
	if v := os.Getenv("TURTLE_CONTROL_SECRET"); v != "" {
		t.ControlSecret = v
	}
	f := cmd.Flags()
	if f.Changed("url") {
		t.WorldWSURL = o.url
	}
	if f.Changed("name") {
		t.AgentName = o.name
	}
	if f.Changed("data") {
		t.DataDir = o.dataDir
	}
	if f.Changed("listen") {
		t.ControlListen = o.listen
	}
	if f.Changed("control-secret") {
		t.ControlSecret = o.secret
	}
	if f.Changed("chat-prefix") {
		t.ChatPrefix = o.chatPrefix
	}
	if f.Changed("tick-ms") {
		t.TickMs = o.tickMs
	}
	if f.Changed("max-step") {
		t.MaxStep = o.maxStep
	}
	if f.Changed("strict") {
		t.StrictProtocol = o.strict
	}
	if o.noJournal {
		t.Journal = false
	}
	if o.noIndex {
		t.IndexDB = false
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func runBot(parent context.Context, t tuning.Tuning, o runOptions) error {
	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(t.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	var recorders actor.Recorders
	var journal *eventlog.EventLogger
	if t.Journal {
		journal = eventlog.NewEventLogger(t.DataDir)
		recorders = append(recorders, journal)
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Printf("journal close: %v", err)
			}
		}()
	}
	var index *indexdb.SQLiteIndex
	if t.IndexDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(t.DataDir, "index.sqlite"))
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		index = idx
		recorders = append(recorders, index)
		defer func() {
			if err := index.Close(); err != nil {
				logger.Printf("index close: %v", err)
			}
		}()
	}

	var validator *protocol.Validator
	if t.StrictProtocol {
		v, err := protocol.NewValidator()
		if err != nil {
			return fmt.Errorf("schemas: %w", err)
		}
		validator = v
	}

	cli := ws.NewClient(ws.ClientConfig{
		URL:          t.WorldWSURL,
		AgentName:    t.AgentName,
		ReconnectMin: t.ReconnectMin(),
		ReconnectMax: t.ReconnectMax(),
		StateFile:    filepath.Join(t.DataDir, "session.json"),
		Validator:    validator,
	}, logger)

	a := actor.New(actor.Config{
		Name:       t.AgentName,
		Tick:       t.Tick(),
		MaxStep:    t.MaxStep,
		Bounds:     pen.Bounds{MinY: t.MinY, MaxY: t.MaxY},
		ChatPrefix: t.ChatPrefix,
		Logger:     logger,
		Recorder:   recorders,
	}, cli)

	for _, line := range o.exec {
		if _, err := a.EnqueueFrom("cli", line); err != nil {
			return &exitError{code: 3, err: fmt.Errorf("--exec %q: %w", line, err)}
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()
	cli.Start(a)
	defer cli.Close()

	a.OnSessionReady(func(p motion.Position) {
		logger.Printf("ready at %.2f %.2f %.2f", p.X, p.Y, p.Z)
	})

	var httpSrv *http.Server
	if t.ControlListen != "" {
		cfg := control.Config{Driver: a, HMACSecret: t.ControlSecret, Logger: logger}
		if index != nil {
			cfg.History = index
		}
		ctl, err := control.NewServer(cfg)
		if err != nil {
			return err
		}
		httpSrv = &http.Server{
			Addr:              t.ControlListen,
			Handler:           ctl.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("control listening on %s", t.ControlListen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("control: %v", err)
			}
		}()
	}

	if o.console {
		go func() {
			if err := runConsole(ctx, a, os.Stdin, os.Stdout, filepath.Join(t.DataDir, "console_history")); err != nil {
				logger.Printf("console: %v", err)
			}
			// End of input: finish what was queued, then exit.
			waitIdle(ctx, a)
			stop()
		}()
	}

	err := <-runErr
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = httpSrv.Shutdown(sctx)
		cancel()
	}
	if journal != nil {
		if st := journal.Stats(); st.Failed > 0 {
			logger.Printf("journal: %d events failed, last error: %v", st.Failed, st.LastErr)
		}
	}
	if index != nil {
		if st := index.Stats(); st.DropTotal > 0 || st.WriteFailTotal > 0 {
			logger.Printf("index: dropped=%d write_failures=%d", st.DropTotal, st.WriteFailTotal)
		}
	}
	if errors.Is(err, context.Canceled) {
		logger.Printf("shutdown (%d instructions executed)", a.Status().Executed)
		return nil
	}
	return err
}

func waitIdle(ctx context.Context, d control.Driver) {
	tk := time.NewTicker(50 * time.Millisecond)
	defer tk.Stop()
	for {
		st := d.Status()
		if st.Ready && st.Pending == 0 && st.Depth == 0 && !st.Busy && st.CurrentID == "" {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}
