// Package timers tracks the per-contact reminder and closing timers
// of the queue-selection dialogue. Each contact carries a generation
// counter; firing callbacks check it so a timer that outlived its
// dialogue becomes a no-op instead of touching a newer one.
package timers

import (
	"sync"
	"time"
)

// Callback runs when a timer fires. The generation identifies which
// dialogue armed it.
type Callback func(contactNumber string, generation uint64)

// Registry owns the active reminder/final timer pairs, one per
// contact number.
type Registry struct {
	mu          sync.Mutex
	generations map[string]uint64
	active      map[string]*pair
}

type pair struct {
	generation uint64
	reminder   *time.Timer
	final      *time.Timer
}

// NewRegistry creates an empty timer registry.
func NewRegistry() *Registry {
	return &Registry{
		generations: make(map[string]uint64),
		active:      make(map[string]*pair),
	}
}

// Schedule arms the reminder and final timers for a contact, replacing
// any previous pair, and returns the new generation.
func (r *Registry) Schedule(contactNumber string, reminderDelay, finalDelay time.Duration, onReminder, onFinal Callback) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(contactNumber)
	r.generations[contactNumber]++
	generation := r.generations[contactNumber]

	p := &pair{generation: generation}
	p.reminder = time.AfterFunc(reminderDelay, func() {
		if r.StillCurrent(contactNumber, generation) {
			onReminder(contactNumber, generation)
		}
	})
	p.final = time.AfterFunc(finalDelay, func() {
		if r.StillCurrent(contactNumber, generation) {
			onFinal(contactNumber, generation)
		}
	})
	r.active[contactNumber] = p
	return generation
}

// Cancel stops the contact's timers and invalidates their generation.
// Safe to call when nothing is armed.
func (r *Registry) Cancel(contactNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(contactNumber)
	r.generations[contactNumber]++
}

// StillCurrent reports whether the generation is the latest armed for
// the contact. Fired callbacks use it to detect staleness.
func (r *Registry) StillCurrent(contactNumber string, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[contactNumber] == generation
}

// ActiveCount reports how many contacts have armed timers.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Stop cancels every armed timer, for shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for contact := range r.active {
		r.stopLocked(contact)
		r.generations[contact]++
	}
}

func (r *Registry) stopLocked(contactNumber string) {
	if p, ok := r.active[contactNumber]; ok {
		p.reminder.Stop()
		p.final.Stop()
		delete(r.active, contactNumber)
	}
}
