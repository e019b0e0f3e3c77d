package jobmanager

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"videovoice/pkg/logger"
)

// orphanGrace is how long a file in the upload/output directories must sit
// unreferenced by any job before the sweep removes it, giving an in-flight
// upload time to register its job before being treated as abandoned.
const orphanGrace = 1 * time.Hour

// OrphanSweeper periodically (and reactively, via fsnotify) removes files
// under watched directories that no job in the registry references.
// Grounded on the teacher's jobScanner ticker loop, retargeted from
// DB-polling-for-pending-jobs to filesystem cleanup.
type OrphanSweeper struct {
	registry *Registry
	dirs     []string
	watcher  *fsnotify.Watcher
}

func NewOrphanSweeper(registry *Registry, dirs ...string) (*OrphanSweeper, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		_ = os.MkdirAll(d, 0755)
		if err := watcher.Add(d); err != nil {
			logger.Warn("Could not watch directory for orphan sweep", "dir", d, "error", err.Error())
		}
	}
	return &OrphanSweeper{registry: registry, dirs: dirs, watcher: watcher}, nil
}

// Run starts the periodic sweep and the fsnotify-reactive trigger. It
// blocks until stop is closed.
func (s *OrphanSweeper) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	defer s.watcher.Close()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweep()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				s.sweep()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Orphan sweep watcher error", "error", err.Error())
		}
	}
}

func (s *OrphanSweeper) sweep() {
	referenced := make(map[string]bool)
	for _, job := range s.registry.All() {
		for _, p := range []string{job.InputPath, job.OutputPath, job.SRTPath} {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			referenced[p] = true
		}
	}

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			key := path
			if abs, err := filepath.Abs(path); err == nil {
				key = abs
			}
			if referenced[key] {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if time.Since(info.ModTime()) < orphanGrace {
				continue
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("Failed to remove orphaned file", "path", path, "error", err.Error())
			} else {
				logger.Info("Removed orphaned file", "path", path)
			}
		}
	}
}
