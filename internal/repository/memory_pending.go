package repository

import (
	"context"
	"sync"
	"time"

	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// PendingMemoryRepository is an in-memory PendingSelectionRepository.
type PendingMemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	pending map[string]*models.PendingSelection
	held    map[string][]*models.HeldMessage
}

// NewPendingMemoryRepository creates an empty in-memory pending store.
func NewPendingMemoryRepository() *PendingMemoryRepository {
	return &PendingMemoryRepository{
		nextID:  1,
		pending: make(map[string]*models.PendingSelection),
		held:    make(map[string][]*models.HeldMessage),
	}
}

func (r *PendingMemoryRepository) GetByNumber(_ context.Context, contactNumber string) (*models.PendingSelection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[contactNumber]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *PendingMemoryRepository) Create(_ context.Context, p *models.PendingSelection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[p.ContactNumber]; ok {
		return ErrConflict
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.InvalidAttempts = 0
	copied := *p
	r.pending[p.ContactNumber] = &copied
	return nil
}

func (r *PendingMemoryRepository) MarkInitialSent(_ context.Context, contactNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[contactNumber]
	if !ok || p.InitialSent {
		return false, nil
	}
	p.InitialSent = true
	return true, nil
}

func (r *PendingMemoryRepository) IncrementInvalidAttempts(_ context.Context, contactNumber string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[contactNumber]
	if !ok {
		return 0, ErrNotFound
	}
	p.InvalidAttempts++
	return p.InvalidAttempts, nil
}

func (r *PendingMemoryRepository) Delete(_ context.Context, contactNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[contactNumber]; !ok {
		return false, nil
	}
	delete(r.pending, contactNumber)
	delete(r.held, contactNumber)
	return true, nil
}

func (r *PendingMemoryRepository) AppendHeldMessage(_ context.Context, hm *models.HeldMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hm.ReceivedAt.IsZero() {
		hm.ReceivedAt = time.Now().UTC()
	}
	hm.ID = r.nextID
	r.nextID++
	copied := *hm
	r.held[hm.ContactNumber] = append(r.held[hm.ContactNumber], &copied)
	return nil
}

func (r *PendingMemoryRepository) TakeHeldMessages(_ context.Context, contactNumber string) ([]*models.HeldMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.held[contactNumber]
	delete(r.held, contactNumber)
	return out, nil
}

func (r *PendingMemoryRepository) ListStale(_ context.Context, cutoff time.Time) ([]*models.PendingSelection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PendingSelection
	for _, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}
