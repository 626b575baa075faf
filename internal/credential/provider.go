package credential

import (
	"errors"
	"sync"
)

// ErrNoCredential is returned when no token is available.
var ErrNoCredential = errors.New("no credential")

// Credential is a bearer token and where it came from.
type Credential struct {
	Token  string
	Source string // e.g. "static", "file:/run/secrets/token", "redis:session:token"
}

// Provider supplies the current credential and a change signal.
type Provider interface {
	// Current returns the credential at call time. ok is false when no
	// token is available.
	Current() (cred Credential, ok bool)

	// Watch registers fn to be called after every rotation. The returned
	// function unregisters it.
	Watch(fn func()) (cancel func())
}

// Token returns the current token, or "" when none is available.
func Token(p Provider) string {
	if p == nil {
		return ""
	}
	cred, ok := p.Current()
	if !ok {
		return ""
	}
	return cred.Token
}

// watchers is the change-signal fanout shared by providers.
type watchers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (w *watchers) add(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func())
	}
	id := w.next
	w.next++
	w.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.fns, id)
			w.mu.Unlock()
		})
	}
}

// notify calls every watcher outside the lock.
func (w *watchers) notify() {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Static holds a token set in process.
type Static struct {
	mu    sync.RWMutex
	token string
	w     watchers
}

// NewStatic creates a provider holding token ("" for none).
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Current returns the held token.
func (s *Static) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return Credential{}, false
	}
	return Credential{Token: s.token, Source: "static"}, true
}

// Watch registers a rotation callback.
func (s *Static) Watch(fn func()) func() {
	return s.w.add(fn)
}

// Set replaces the token and notifies watchers if it changed.
func (s *Static) Set(token string) {
	s.mu.Lock()
	changed := s.token != token
	s.token = token
	s.mu.Unlock()

	if changed {
		s.w.notify()
	}
}

// Clear removes the token.
func (s *Static) Clear() {
	s.Set("")
}
