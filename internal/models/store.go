package models

import (
	"context"
	"errors"
	"time"
)

// ErrContactNotFound is returned when a contact id does not exist
var ErrContactNotFound = errors.New("contact not found")

// ContactRepository is the set of contact operations reconciliation needs.
//
// Implementations are scoped to a single transaction; see [Store].
type ContactRepository interface {
	// FindMatching returns contacts whose email equals email or whose phone number equals
	// phone, ordered by creation time. A nil argument skips that comparison.
	FindMatching(ctx context.Context, email, phone *string) ([]*Contact, error)

	// FindLinked returns the contacts joined to c by a link pointer: those with
	// linked_id = c.ID and the one with id = c.LinkedID.
	FindLinked(ctx context.Context, c *Contact) ([]*Contact, error)

	// UpdateLink rewrites the precedence and link target of a contact.
	UpdateLink(ctx context.Context, id int64, precedence LinkPrecedence, linkedID *int64, at time.Time) error

	// Insert stores c and assigns its ID.
	Insert(ctx context.Context, c *Contact) error

	// FindByComponent returns the primary and every contact linked to it, ordered by creation time.
	FindByComponent(ctx context.Context, primaryID int64) ([]*Contact, error)

	// Get returns a contact by id, or [ErrContactNotFound].
	Get(ctx context.Context, id int64) (*Contact, error)
}

// Store runs fn inside one transaction. The transaction commits when fn returns nil and
// rolls back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo ContactRepository) error) error
}
