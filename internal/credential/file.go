package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// FileProvider reads the token from a file. The file is read on every call
// to Current, so a rotated token is picked up by the next connection
// attempt even before the poll loop notices the change.
type FileProvider struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	w        watchers

	mu   sync.Mutex
	last string
}

// NewFileProvider creates a provider for path. interval is how often Run
// checks the file for rotation.
func NewFileProvider(path string, interval time.Duration, logger *slog.Logger) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p := &FileProvider{path: path, interval: interval, logger: logger}
	tok, err := p.read()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	p.last = tok
	return p, nil
}

// Current reads the file.
func (p *FileProvider) Current() (Credential, bool) {
	tok, err := p.read()
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read credential file", "path", p.path, "error", err)
		}
		return Credential{}, false
	}
	if tok == "" {
		return Credential{}, false
	}
	return Credential{Token: tok, Source: "file:" + p.path}, true
}

// Watch registers a rotation callback.
func (p *FileProvider) Watch(fn func()) func() {
	return p.w.add(fn)
}

// Run polls the file until ctx is cancelled and notifies watchers whenever
// the token changes.
func (p *FileProvider) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *FileProvider) check() {
	tok, err := p.read()
	if err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to read credential file", "path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	changed := tok != p.last
	p.last = tok
	p.mu.Unlock()

	if changed {
		p.logger.Info("credential rotated", "source", "file", "present", tok != "")
		p.w.notify()
	}
}

func (p *FileProvider) read() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
