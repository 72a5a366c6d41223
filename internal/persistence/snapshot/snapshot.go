// Package snapshot stores the reference world's block map and agent sessions
// as zstd-compressed files.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"turtlecraft.ai/internal/protocol"
)

const Version = 1

// Header is written as a JSON line ahead of the gob body so tools can peek at
// a snapshot without decoding it.
type Header struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Blocks  int       `json:"blocks"`
	Agents  int       `json:"agents"`
}

type Block struct {
	X, Y, Z int
	Item    int
}

// Agent is a resumable session.
type Agent struct {
	ID    string
	Name  string
	Token string
	Pos   protocol.PositionMsg
	Held  protocol.HoldMsg
}

type WorldV1 struct {
	Header Header

	MinY      int
	MaxY      int
	NextID    int
	WorldTime int64
	Blocks    []Block
	Agents    []Agent
}

// FileName is the name a snapshot taken at t is stored under.
func FileName(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + ".snap.zst"
}

// WriteSnapshot writes snap to path through a temp file and rename.
func WriteSnapshot(path string, snap WorldV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Blocks = len(snap.Blocks)
	snap.Header.Agents = len(snap.Agents)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (WorldV1, error) {
	var snap WorldV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// List returns the snapshots in dir, oldest first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type named struct {
		ms   int64
		path string
	}
	var out []named
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, named{ms: ms, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ms < out[j].ms })
	paths := make([]string, len(out))
	for i, n := range out {
		paths[i] = n.path
	}
	return paths, nil
}

// Latest returns the newest snapshot in dir, or "" if there is none.
func Latest(dir string) string {
	paths, err := List(dir)
	if err != nil || len(paths) == 0 {
		return ""
	}
	return paths[len(paths)-1]
}

// Prune removes all but the newest keep snapshots.
func Prune(dir string, keep int) error {
	paths, err := List(dir)
	if err != nil {
		return err
	}
	for len(paths) > keep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}
