package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Prompt holds the system prompt currently in effect for one channel.
// The scheduler reads it at the start of every cycle, so edits to the prompt
// file take effect on the next batch without a restart.
type Prompt struct {
	mu      sync.RWMutex
	text    string
	path    string // canonical path, used to filter watcher events
	watcher *fsnotify.Watcher
}

// LoadPrompt reads the prompt file and returns a Prompt serving its contents.
// Call Watch to pick up later edits.
func LoadPrompt(path string) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt path: %w", err)
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt path: %w", err)
	}

	return &Prompt{text: string(data), path: canonical}, nil
}

// Current returns the prompt text currently in effect.
func (p *Prompt) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Watch monitors the prompt file for modification and swaps the in-memory
// text when it changes. The parent directory is watched rather than the file
// itself so editors that replace the file (rename-over-write) are still seen.
func (p *Prompt) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompt directory: %w", err)
	}
	p.watcher = watcher

	go p.watchLoop()
	return nil
}

func (p *Prompt) watchLoop() {
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !p.eventForPrompt(ev) {
				continue
			}
			p.reload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("prompt watcher error", "path", p.path, "error", err)
		}
	}
}

// eventForPrompt reports whether the directory event targets the prompt file.
// Paths are canonicalized because editors and the watcher may disagree about
// symlinks.
func (p *Prompt) eventForPrompt(ev fsnotify.Event) bool {
	canonical, err := filepath.EvalSymlinks(ev.Name)
	if err != nil {
		return false
	}
	canonical, err = filepath.Abs(canonical)
	if err != nil {
		return false
	}
	return canonical == p.path
}

func (p *Prompt) reload() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		// Keep serving the previous prompt; a partially written file will
		// produce another event once the editor finishes.
		slog.Error("failed to re-read channel prompt", "path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	p.text = string(data)
	p.mu.Unlock()

	slog.Info("channel prompt updated", "path", p.path)
}

// Close stops watching the prompt file. The last loaded text remains served.
func (p *Prompt) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}
