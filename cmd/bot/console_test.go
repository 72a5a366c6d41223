package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/sim/actor"
)

type recordingDriver struct {
	texts []string
}

func (d *recordingDriver) EnqueueFrom(source, text string) (string, error) {
	if _, err := logo.Parse(text); err != nil {
		return "", err
	}
	d.texts = append(d.texts, text)
	return "id-1", nil
}

func (d *recordingDriver) Status() actor.Status { return actor.Status{Name: "turtle"} }

func TestConsoleLoop_QueuesLinesAndJoinsOpenBlocks(t *testing.T) {
	in := strings.Join([]string{
		"# draw a square",
		"pd",
		"repeat 4 [",
		"  fd 2;",
		"  rt 90 ]",
		"fd",
		"lt",
		":status",
		":quit",
		"fd 100",
	}, "\n")
	d := &recordingDriver{}
	var out bytes.Buffer
	if err := consoleLoop(context.Background(), d, scannerSource(strings.NewReader(in)), &out); err != nil {
		t.Fatalf("consoleLoop: %v", err)
	}
	want := []string{"pd", "repeat 4 [   fd 2;   rt 90 ]", "fd"}
	if diff := cmp.Diff(want, d.texts); diff != "" {
		t.Fatalf("queued mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "syntax error") || !strings.Contains(out.String(), `"name": "turtle"`) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestConsoleLoop_UnclosedBlockAtEOF(t *testing.T) {
	d := &recordingDriver{}
	var out bytes.Buffer
	if err := consoleLoop(context.Background(), d, scannerSource(strings.NewReader("repeat 2 [ fd 1")), &out); err != nil {
		t.Fatalf("consoleLoop: %v", err)
	}
	if len(d.texts) != 0 || !strings.Contains(out.String(), "missing ']'") {
		t.Fatalf("texts=%v output=%q", d.texts, out.String())
	}
}
