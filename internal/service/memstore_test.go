package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dawgdevv/identity-reconciliation/internal/models"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory [models.Store]. A failed transaction restores the rows it held
// before the transaction began.
type memStore struct {
	mu       sync.Mutex
	contacts map[int64]*models.Contact
	nextID   int64

	txCount int
	writes  int
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{contacts: make(map[int64]*models.Contact), nextID: 1}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo models.ContactRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	m.txCount++

	snapshot := make(map[int64]*models.Contact, len(m.contacts))
	for id, c := range m.contacts {
		snapshot[id] = clone(c)
	}
	nextID := m.nextID

	if err := fn(ctx, &memRepo{m: m}); err != nil {
		m.contacts = snapshot
		m.nextID = nextID
		return err
	}
	return nil
}

// seed inserts a row directly, bypassing the reconciler
func (m *memStore) seed(email, phone string, precedence models.LinkPrecedence, linkedID int64, createdAt time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &models.Contact{
		ID:             m.nextID,
		LinkPrecedence: precedence,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if email != "" {
		c.Email = &email
	}
	if phone != "" {
		c.PhoneNumber = &phone
	}
	if linkedID != 0 {
		c.LinkedID = &linkedID
	}
	m.contacts[c.ID] = c
	m.nextID++
	return c.ID
}

func (m *memStore) get(id int64) *models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.contacts[id])
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contacts)
}

func (m *memStore) all() []*models.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(*models.Contact) bool { return true })
}

func (m *memStore) sorted(keep func(*models.Contact) bool) []*models.Contact {
	var out []*models.Contact
	for _, c := range m.contacts {
		if keep(c) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

type memRepo struct {
	m *memStore
}

func (r *memRepo) fail(op string) error {
	if r.m.failOn == op {
		return fmt.Errorf("%s: %w", op, errInjected)
	}
	return nil
}

func (r *memRepo) FindMatching(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	if err := r.fail("FindMatching"); err != nil {
		return nil, err
	}
	return r.m.sorted(func(c *models.Contact) bool {
		return (email != nil && equal(c.Email, email)) || (phone != nil && equal(c.PhoneNumber, phone))
	}), nil
}

func (r *memRepo) FindLinked(ctx context.Context, c *models.Contact) ([]*models.Contact, error) {
	if err := r.fail("FindLinked"); err != nil {
		return nil, err
	}
	return r.m.sorted(func(o *models.Contact) bool {
		return (o.LinkedID != nil && *o.LinkedID == c.ID) || (c.LinkedID != nil && o.ID == *c.LinkedID)
	}), nil
}

func (r *memRepo) UpdateLink(ctx context.Context, id int64, precedence models.LinkPrecedence, linkedID *int64, at time.Time) error {
	r.m.writes++
	if err := r.fail("UpdateLink"); err != nil {
		return err
	}
	c, ok := r.m.contacts[id]
	if !ok {
		return models.ErrContactNotFound
	}
	c.LinkPrecedence = precedence
	c.LinkedID = nil
	if linkedID != nil {
		v := *linkedID
		c.LinkedID = &v
	}
	c.UpdatedAt = at
	return nil
}

func (r *memRepo) Insert(ctx context.Context, c *models.Contact) error {
	r.m.writes++
	if err := r.fail("Insert"); err != nil {
		return err
	}
	c.ID = r.m.nextID
	r.m.nextID++
	r.m.contacts[c.ID] = clone(c)
	return nil
}

func (r *memRepo) FindByComponent(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	if err := r.fail("FindByComponent"); err != nil {
		return nil, err
	}
	return r.m.sorted(func(c *models.Contact) bool {
		return c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID)
	}), nil
}

func (r *memRepo) Get(ctx context.Context, id int64) (*models.Contact, error) {
	if err := r.fail("Get"); err != nil {
		return nil, err
	}
	c, ok := r.m.contacts[id]
	if !ok {
		return nil, fmt.Errorf("contact %d: %w", id, models.ErrContactNotFound)
	}
	return clone(c), nil
}

func clone(c *models.Contact) *models.Contact {
	if c == nil {
		return nil
	}
	out := *c
	if c.Email != nil {
		v := *c.Email
		out.Email = &v
	}
	if c.PhoneNumber != nil {
		v := *c.PhoneNumber
		out.PhoneNumber = &v
	}
	if c.LinkedID != nil {
		v := *c.LinkedID
		out.LinkedID = &v
	}
	return &out
}
