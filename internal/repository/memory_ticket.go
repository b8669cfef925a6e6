package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// TicketMemoryRepository is an in-memory TicketRepository for tests
// and single-process development runs.
type TicketMemoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	tickets map[int64]*models.Ticket
}

// NewTicketMemoryRepository creates an empty in-memory ticket store.
func NewTicketMemoryRepository() *TicketMemoryRepository {
	return &TicketMemoryRepository{nextID: 1, tickets: make(map[int64]*models.Ticket)}
}

func (r *TicketMemoryRepository) GetByID(_ context.Context, id int64) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *TicketMemoryRepository) FindOpenByContact(_ context.Context, contactNumber string, connectionID int64) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *models.Ticket
	for _, t := range r.tickets {
		if t.ContactNumber != contactNumber || !t.IsOpen() {
			continue
		}
		sameConnection := t.ConnectionID != nil && *t.ConnectionID == connectionID
		unassignedManual := t.IsManual && t.ConnectionID == nil
		if !sameConnection && !unassignedManual {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (r *TicketMemoryRepository) Create(_ context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tickets {
		if existing.ContactNumber != t.ContactNumber || !existing.IsOpen() {
			continue
		}
		if t.ConnectionID == nil {
			// an unassigned manual ticket would claim the contact everywhere
			return ErrConflict
		}
		sameConnection := existing.ConnectionID != nil && *existing.ConnectionID == *t.ConnectionID
		unassignedManual := existing.IsManual && existing.ConnectionID == nil
		if sameConnection || unassignedManual {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	t.ID = r.nextID
	r.nextID++
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TicketPending
	}
	t.Protocol = models.MakeProtocol(now, t.ID)
	copied := *t
	r.tickets[t.ID] = &copied
	return nil
}

func (r *TicketMemoryRepository) UpdateStatus(_ context.Context, id int64, status models.TicketStatus, userID *int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok || t.Status == status {
		return false, nil
	}
	t.Status = status
	if userID != nil {
		t.UserID = userID
	}
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *TicketMemoryRepository) SetQueue(_ context.Context, id int64, queueID int64) error {
	return r.update(id, func(t *models.Ticket) { t.QueueID = &queueID })
}

func (r *TicketMemoryRepository) AssignUser(_ context.Context, id int64, userID int64) error {
	return r.update(id, func(t *models.Ticket) { t.UserID = &userID })
}

func (r *TicketMemoryRepository) RegisterContactMessage(_ context.Context, id int64, body string, incrementUnread bool) error {
	return r.update(id, func(t *models.Ticket) {
		t.LastMessage = body
		t.IsOnHold = false
		if incrementUnread {
			t.UnreadMessages++
		}
	})
}

func (r *TicketMemoryRepository) SetInvalidAttempts(_ context.Context, id int64, attempts int) error {
	return r.update(id, func(t *models.Ticket) { t.InvalidAttempts = attempts })
}

func (r *TicketMemoryRepository) ResetUnread(_ context.Context, id int64) error {
	return r.update(id, func(t *models.Ticket) { t.UnreadMessages = 0 })
}

func (r *TicketMemoryRepository) List(_ context.Context, status models.TicketStatus, limit, offset int) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var all []*models.Ticket
	for _, t := range r.tickets {
		if status != "" && t.Status != status {
			continue
		}
		copied := *t
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *TicketMemoryRepository) update(id int64, fn func(*models.Ticket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}
