package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

// ConnectionMemoryRepository is an in-memory ConnectionRepository.
type ConnectionMemoryRepository struct {
	mu          sync.RWMutex
	connections map[int64]*models.Connection
}

// NewConnectionMemoryRepository creates an in-memory connection store
// seeded with the given connections.
func NewConnectionMemoryRepository(seed ...*models.Connection) *ConnectionMemoryRepository {
	r := &ConnectionMemoryRepository{connections: make(map[int64]*models.Connection)}
	for _, c := range seed {
		copied := *c
		r.connections[c.ID] = &copied
	}
	return r
}

func (r *ConnectionMemoryRepository) GetByID(_ context.Context, id int64) (*models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *ConnectionMemoryRepository) List(_ context.Context) ([]*models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Connection
	for _, c := range r.connections {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *ConnectionMemoryRepository) UpdateStatus(_ context.Context, id int64, status models.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ConnectionMemoryRepository) UpdateDeviceJID(_ context.Context, id int64, jid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[id]
	if !ok {
		return ErrNotFound
	}
	if jid == "" {
		c.DeviceJID = nil
	} else {
		c.DeviceJID = &jid
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// MessageMemoryRepository is an in-memory MessageRepository.
type MessageMemoryRepository struct {
	mu       sync.Mutex
	messages []*models.Message
}

// NewMessageMemoryRepository creates an empty in-memory message store.
func NewMessageMemoryRepository() *MessageMemoryRepository {
	return &MessageMemoryRepository{}
}

func (r *MessageMemoryRepository) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	copied := *m
	r.messages = append(r.messages, &copied)
	return nil
}

func (r *MessageMemoryRepository) ListByTicket(_ context.Context, ticketID int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.TicketID == ticketID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MessageMemoryRepository) MarkDelivered(_ context.Context, waMessageID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.WAMessageID == waMessageID && !m.Delivered {
			m.Delivered = true
			return m.ID, true, nil
		}
	}
	return "", false, nil
}

func (r *MessageMemoryRepository) MarkSent(_ context.Context, id string, waMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			m.SentViaWhatsApp = true
			m.WAMessageID = waMessageID
			return nil
		}
	}
	return ErrNotFound
}

// CooldownMemoryRepository is an in-memory CooldownRepository.
type CooldownMemoryRepository struct {
	mu      sync.Mutex
	windows map[string]time.Time
}

// NewCooldownMemoryRepository creates an empty in-memory cooldown store.
func NewCooldownMemoryRepository() *CooldownMemoryRepository {
	return &CooldownMemoryRepository{windows: make(map[string]time.Time)}
}

func (r *CooldownMemoryRepository) Arm(_ context.Context, contactNumber string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[contactNumber] = until
	return nil
}

func (r *CooldownMemoryRepository) IsActive(_ context.Context, contactNumber string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.windows[contactNumber]
	return ok && now.Before(until), nil
}

func (r *CooldownMemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for contact, until := range r.windows {
		if !now.Before(until) {
			delete(r.windows, contact)
			n++
		}
	}
	return n, nil
}

// QueueMemoryRepository is an in-memory QueueRepository.
type QueueMemoryRepository struct {
	mu          sync.Mutex
	nextID      int64
	queues      map[int64]*models.Queue
	users       map[int64]*models.User
	byConn      map[int64][]int64
	memberships map[int64][]int64 // queueID -> userIDs
}

// NewQueueMemoryRepository creates an empty in-memory queue store.
func NewQueueMemoryRepository() *QueueMemoryRepository {
	return &QueueMemoryRepository{
		nextID:      1,
		queues:      make(map[int64]*models.Queue),
		users:       make(map[int64]*models.User),
		byConn:      make(map[int64][]int64),
		memberships: make(map[int64][]int64),
	}
}

// PutUser registers an agent so FindEligibleAgent can return it.
func (r *QueueMemoryRepository) PutUser(u *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *u
	r.users[u.ID] = &copied
}

func (r *QueueMemoryRepository) GetByID(_ context.Context, id int64) (*models.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *q
	return &copied, nil
}

func (r *QueueMemoryRepository) List(_ context.Context) ([]*models.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Queue
	for _, q := range r.queues {
		copied := *q
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *QueueMemoryRepository) Create(_ context.Context, q *models.Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	q.ID = r.nextID
	r.nextID++
	copied := *q
	r.queues[q.ID] = &copied
	return nil
}

func (r *QueueMemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[id]; !ok {
		return ErrNotFound
	}
	delete(r.queues, id)
	delete(r.memberships, id)
	for connID, ids := range r.byConn {
		var kept []int64
		for _, qid := range ids {
			if qid != id {
				kept = append(kept, qid)
			}
		}
		r.byConn[connID] = kept
	}
	return nil
}

func (r *QueueMemoryRepository) ListByConnection(_ context.Context, connectionID int64) ([]*models.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Queue
	for _, qid := range r.byConn[connectionID] {
		if q, ok := r.queues[qid]; ok {
			copied := *q
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *QueueMemoryRepository) AttachToConnection(_ context.Context, queueID, connectionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[connectionID] = append(r.byConn[connectionID], queueID)
	return nil
}

func (r *QueueMemoryRepository) IsMember(_ context.Context, userID, queueID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.memberships[queueID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *QueueMemoryRepository) AddMember(_ context.Context, userID, queueID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[queueID] = append(r.memberships[queueID], userID)
	return nil
}

func (r *QueueMemoryRepository) FindEligibleAgent(_ context.Context, queueID int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.User
	for _, uid := range r.memberships[queueID] {
		u, ok := r.users[uid]
		if !ok {
			continue
		}
		if best == nil {
			best = u
			continue
		}
		switch {
		case best.LastActiveAt == nil && u.LastActiveAt != nil:
			best = u
		case best.LastActiveAt != nil && u.LastActiveAt != nil && u.LastActiveAt.After(*best.LastActiveAt):
			best = u
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

// UserMemoryRepository is an in-memory UserRepository.
type UserMemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

// NewUserMemoryRepository creates an empty in-memory user store.
func NewUserMemoryRepository() *UserMemoryRepository {
	return &UserMemoryRepository{nextID: 1, users: make(map[int64]*models.User)}
}

func (r *UserMemoryRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *UserMemoryRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (r *UserMemoryRepository) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.ID = r.nextID
	r.nextID++
	copied := *u
	r.users[u.ID] = &copied
	return nil
}

func (r *UserMemoryRepository) TouchActivity(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastActiveAt = &at
	return nil
}
