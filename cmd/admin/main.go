package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"turtlecraft.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "say":
			sayCmd(os.Args[2:])
			return
		case "teleport":
			teleportCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "render":
			renderCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "server data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(filepath.Join(*dataDir, "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		fmt.Println(filepath.Base(p))
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "server data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	snap := loadSnapshot(*dataDir, *snapPath)
	fmt.Printf("snapshot v%d saved=%s blocks=%d agents=%d next_id=%d time=%d y=%d..%d\n",
		snap.Header.Version, snap.Header.SavedAt.Format("2006-01-02T15:04:05Z07:00"), len(snap.Blocks), len(snap.Agents),
		snap.NextID, snap.WorldTime, snap.MinY, snap.MaxY)
	for _, a := range snap.Agents {
		fmt.Printf("  %s %-12s pos=%.2f,%.2f,%.2f held=%d/%d\n", a.ID, a.Name, a.Pos.X, a.Pos.Y, a.Pos.Z, a.Held.Item, a.Held.Uses)
	}
}

func renderCmd(args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "server data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	y := fs.Int("y", 63, "layer to render")
	_ = fs.Parse(args)

	snap := loadSnapshot(*dataDir, *snapPath)
	renderLayer(os.Stdout, snap.Blocks, *y)
}

func loadSnapshot(dataDir, path string) snapshot.WorldV1 {
	if strings.TrimSpace(path) == "" {
		path = snapshot.Latest(filepath.Join(dataDir, "snapshots"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run the server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	return snap
}

// renderLayer prints a top-down view of one y layer, x to the right and z
// downward. Each distinct item gets its own glyph.
func renderLayer(w io.Writer, blocks []snapshot.Block, y int) {
	var layer []snapshot.Block
	for _, b := range blocks {
		if b.Y == y {
			layer = append(layer, b)
		}
	}
	if len(layer) == 0 {
		fmt.Fprintf(w, "y=%d: empty\n", y)
		return
	}
	minX, maxX, minZ, maxZ := layer[0].X, layer[0].X, layer[0].Z, layer[0].Z
	items := map[int]bool{}
	cells := map[[2]int]int{}
	for _, b := range layer {
		minX, maxX = min(minX, b.X), max(maxX, b.X)
		minZ, maxZ = min(minZ, b.Z), max(maxZ, b.Z)
		items[b.Item] = true
		cells[[2]int{b.X, b.Z}] = b.Item
	}
	ids := make([]int, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	const glyphs = "#@%&*+=o"
	glyph := map[int]byte{}
	for i, id := range ids {
		glyph[id] = glyphs[i%len(glyphs)]
	}

	fmt.Fprintf(w, "y=%d x=%d..%d z=%d..%d blocks=%d\n", y, minX, maxX, minZ, maxZ, len(layer))
	var b strings.Builder
	for z := minZ; z <= maxZ; z++ {
		b.Reset()
		for x := minX; x <= maxX; x++ {
			if item, ok := cells[[2]int{x, z}]; ok {
				b.WriteByte(glyph[item])
			} else {
				b.WriteByte('.')
			}
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), "."))
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%c item %d\n", glyph[id], id)
	}
}
