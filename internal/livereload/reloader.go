package livereload

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Reloader schedules broadcasts. A trigger restarts the debounce window;
// once it has been quiet for the debounce period the reloader waits the
// reload delay and broadcasts once. Triggers arriving during the delay
// start the next cycle.
type Reloader struct {
	hub      *Hub
	debounce time.Duration
	delay    time.Duration
	notify   bool

	mu      sync.Mutex
	timer   *time.Timer
	pending MessageType
	paths   map[string]struct{}
	stopped bool
}

// NewReloader creates a reloader broadcasting through hub.
func NewReloader(hub *Hub, debounce, delay time.Duration, notify bool) *Reloader {
	return &Reloader{
		hub:      hub,
		debounce: debounce,
		delay:    delay,
		notify:   notify,
		paths:    make(map[string]struct{}),
	}
}

// Trigger schedules a reload of the given type.
func (r *Reloader) Trigger(kind MessageType, paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	r.pending = merge(r.pending, kind)
	for _, p := range paths {
		r.paths[p] = struct{}{}
	}

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.settled)
}

func (r *Reloader) settled() {
	r.mu.Lock()
	kind := r.pending
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	r.pending = ""
	r.paths = make(map[string]struct{})
	r.timer = nil
	stopped := r.stopped
	r.mu.Unlock()

	if stopped || kind == "" {
		return
	}

	time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			return
		}
		n := r.hub.Broadcast(ServerMessage{Type: kind, Notify: r.notify, Paths: paths})
		log.Info().Str("type", string(kind)).Int("clients", n).Msg("Browsers reloaded")
	})
}

// Stop cancels pending reloads.
func (r *Reloader) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
