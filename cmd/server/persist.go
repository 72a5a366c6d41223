package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"turtlecraft.ai/internal/persistence/bucket"
	"turtlecraft.ai/internal/persistence/snapshot"
	"turtlecraft.ai/internal/transport/ws"
)

const keepSnapshots = 5

func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

// restoreLatest loads the newest snapshot under dataDir, if any.
func restoreLatest(srv *ws.Server, dataDir string, logger *log.Logger) error {
	path := snapshot.Latest(snapshotDir(dataDir))
	if path == "" {
		return nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	if err := srv.Restore(snap); err != nil {
		return err
	}
	logger.Printf("resumed from snapshot=%s blocks=%d agents=%d", filepath.Base(path), len(snap.Blocks), len(snap.Agents))
	return nil
}

func saveSnapshot(srv *ws.Server, dataDir string, now time.Time) (string, error) {
	dir := snapshotDir(dataDir)
	path := filepath.Join(dir, snapshot.FileName(now))
	if err := snapshot.WriteSnapshot(path, srv.Snapshot(now)); err != nil {
		return "", err
	}
	return path, snapshot.Prune(dir, keepSnapshots)
}

// runSnapshots saves periodically and once more when ctx is done. Each saved
// file is handed to the mirror when one is configured.
func runSnapshots(ctx context.Context, srv *ws.Server, dataDir string, every time.Duration, mirror *bucket.Mirror, logger *log.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if path, err := saveSnapshot(srv, dataDir, time.Now()); err != nil {
				logger.Printf("snapshot write: %v", err)
			} else {
				logger.Printf("final snapshot %s", filepath.Base(path))
				mirror.Enqueue(path)
			}
			mirror.Close()
			return
		case now := <-t.C:
			if path, err := saveSnapshot(srv, dataDir, now); err != nil {
				logger.Printf("snapshot write: %v", err)
			} else {
				mirror.Enqueue(path)
			}
		}
	}
}

// newMirror returns nil when no endpoint is configured. Keys come from the
// environment so they stay out of process listings.
func newMirror(endpoint, bucketName, prefix string, logger *log.Logger) (*bucket.Mirror, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, nil
	}
	c, err := bucket.New(bucket.Config{
		Endpoint:  endpoint,
		Bucket:    bucketName,
		Region:    os.Getenv("TC_MIRROR_REGION"),
		AccessKey: os.Getenv("TC_MIRROR_ACCESS_KEY"),
		SecretKey: os.Getenv("TC_MIRROR_SECRET_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return bucket.NewMirror(c, prefix, 16, logger), nil
}
