package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"turtlecraft.ai/internal/protocol"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	snap := WorldV1{
		Header:    Header{SavedAt: at},
		MinY:      0,
		MaxY:      127,
		NextID:    3,
		WorldTime: 6000,
		Blocks:    []Block{{X: 0, Y: 63, Z: 0, Item: 35}, {X: 0, Y: 63, Z: 1, Item: 35}},
		Agents: []Agent{{ID: "A1", Name: "turtle", Token: "tok",
			Pos:  protocol.PositionMsg{Type: protocol.TypePosition, X: 0.5, Y: 64, Z: 2.5, Stance: 65.62, OnGround: true},
			Held: protocol.HoldMsg{Type: protocol.TypeHold, Item: 35, Uses: 62}}},
	}
	path := filepath.Join(dir, FileName(at))
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	snap.Header.Version = Version
	snap.Header.Blocks = 2
	snap.Header.Agents = 1
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		if err := WriteSnapshot(filepath.Join(dir, FileName(base.Add(time.Duration(i)*time.Second))), WorldV1{}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(dir, FileName(base.Add(3*time.Second)))
	if got := Latest(dir); got != want {
		t.Fatalf("Latest=%s want=%s", got, want)
	}
	if err := Prune(dir, 2); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	paths, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 || paths[1] != want {
		t.Fatalf("paths=%v", paths)
	}
	if Latest(filepath.Join(dir, "missing")) != "" {
		t.Fatalf("Latest of missing dir should be empty")
	}
}
