package hub

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// AdmissionConfig holds the per-IP ceilings and their windows.
type AdmissionConfig struct {
	MaxConnections  int
	Window          time.Duration
	MaxReconnects   int
	ReconnectWindow time.Duration
}

type admissionRecord struct {
	active        int
	windowStart   time.Time
	reconnects    int
	reconnectFrom time.Time
	lastAttempt   time.Time
}

// Admission is a per-IP sliding-window admission check. It tracks connections
// counted in the current window and attempts in the shorter reconnect window;
// both windows reset on their own once elapsed.
type Admission struct {
	cfg   AdmissionConfig
	clock clockwork.Clock

	mu      sync.Mutex
	records map[string]*admissionRecord
}

// NewAdmission creates an Admission with cfg. Zero values fall back to defaults.
func NewAdmission(cfg AdmissionConfig, clock clockwork.Clock) *Admission {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 20
	}
	if cfg.ReconnectWindow <= 0 {
		cfg.ReconnectWindow = 10 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Admission{cfg: cfg, clock: clock, records: make(map[string]*admissionRecord)}
}

// Admit records an attempt from ip and reports whether it may proceed.
func (a *Admission) Admit(ip string) bool {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[ip]
	if !ok {
		r = &admissionRecord{windowStart: now, reconnectFrom: now}
		a.records[ip] = r
	}
	if now.Sub(r.windowStart) >= a.cfg.Window {
		r.active = 0
		r.windowStart = now
	}
	if now.Sub(r.reconnectFrom) >= a.cfg.ReconnectWindow {
		r.reconnects = 0
		r.reconnectFrom = now
	}
	if r.active >= a.cfg.MaxConnections || r.reconnects >= a.cfg.MaxReconnects {
		return false
	}
	r.active++
	r.reconnects++
	r.lastAttempt = now
	return true
}

// Release gives back an admitted connection slot.
func (a *Admission) Release(ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[ip]; ok && r.active > 0 {
		r.active--
	}
}

// Prune drops records with no counted connections whose windows have both
// lapsed, and returns how many were removed.
func (a *Admission) Prune() int {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for ip, r := range a.records {
		if r.active == 0 && now.Sub(r.windowStart) >= a.cfg.Window && now.Sub(r.reconnectFrom) >= a.cfg.ReconnectWindow {
			delete(a.records, ip)
			n++
		}
	}
	return n
}

// Len reports the number of tracked IPs.
func (a *Admission) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
