package ws

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// persistedSession is what the client keeps between runs so that a restarted
// bot resumes its avatar instead of respawning.
type persistedSession struct {
	URL             string `json:"url"`
	AgentName       string `json:"agent_name"`
	AgentID         string `json:"agent_id,omitempty"`
	ResumeToken     string `json:"resume_token,omitempty"`
	LastConnectedAt string `json:"last_connected_at,omitempty"`
}

func loadStateFile(path string) (persistedSession, error) {
	if path == "" {
		return persistedSession{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return persistedSession{}, nil
		}
		return persistedSession{}, err
	}
	var st persistedSession
	if err := json.Unmarshal(b, &st); err != nil {
		return persistedSession{}, fmt.Errorf("parse state file: %w", err)
	}
	return st, nil
}

func (st persistedSession) connectedTime() time.Time {
	if st.LastConnectedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, st.LastConnectedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

func saveStateFile(path string, st persistedSession) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

func writeFileAtomic(path string, b []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
