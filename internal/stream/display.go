package stream

import "sync"

// DisplayPrefs tracks per-thread display toggles consulted at format
// time. The full-code flag is a momentary viewing preference, so it
// lives in memory and resets on restart.
type DisplayPrefs struct {
	mu   sync.RWMutex
	full map[string]bool
}

// NewDisplayPrefs returns an empty preference set.
func NewDisplayPrefs() *DisplayPrefs {
	return &DisplayPrefs{full: make(map[string]bool)}
}

// ToggleFull flips the thread's full-code flag and returns the new
// state. When on, long code output stays inline instead of collapsing
// to a summary or attachment.
func (d *DisplayPrefs) ToggleFull(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.full[threadID] = !d.full[threadID]
	return d.full[threadID]
}

// FullCode reports the thread's full-code flag.
func (d *DisplayPrefs) FullCode(threadID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.full[threadID]
}
