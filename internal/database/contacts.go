package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dawgdevv/identity-reconciliation/internal/models"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ContactRepository implements [models.ContactRepository] against the contacts table.
// Placeholders use the $N form, which both lib/pq and go-sqlite3 accept.
type ContactRepository struct {
	q querier
}

// NewContactRepository creates a repository that runs its statements on q
func NewContactRepository(q querier) *ContactRepository {
	return &ContactRepository{q: q}
}

// FindMatching queries contacts by email OR phone number
func (r *ContactRepository) FindMatching(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	var conds []string
	var args []any

	if email != nil {
		args = append(args, *email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if phone != nil {
		args = append(args, *phone)
		conds = append(conds, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE (` + strings.Join(conds, " OR ") + `) AND deleted_at IS NULL
			  ORDER BY created_at ASC, id ASC`
	return r.queryContacts(ctx, query, args...)
}

// FindLinked queries the secondaries of c and the primary c points at
func (r *ContactRepository) FindLinked(ctx context.Context, c *models.Contact) ([]*models.Contact, error) {
	var linkedID sql.NullInt64
	if c.LinkedID != nil {
		linkedID = sql.NullInt64{Int64: *c.LinkedID, Valid: true}
	}

	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE (linked_id = $1 OR id = $2) AND deleted_at IS NULL
			  ORDER BY created_at ASC, id ASC`
	return r.queryContacts(ctx, query, c.ID, linkedID)
}

// UpdateLink updates a contact's link_precedence and linked_id
func (r *ContactRepository) UpdateLink(ctx context.Context, id int64, precedence models.LinkPrecedence, linkedID *int64, at time.Time) error {
	if !precedence.Valid() {
		return fmt.Errorf("invalid link precedence %q", precedence)
	}

	query := `UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3
			  WHERE id = $4 AND deleted_at IS NULL`
	result, err := r.q.ExecContext(ctx, query, string(precedence), nullInt64(linkedID), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update contact %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update contact %d: %w", id, models.ErrContactNotFound)
	}
	return nil
}

// Insert creates a new contact and sets its ID
func (r *ContactRepository) Insert(ctx context.Context, c *models.Contact) error {
	if !c.LinkPrecedence.Valid() {
		return fmt.Errorf("invalid link precedence %q", c.LinkPrecedence)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	var id int64
	err := r.q.QueryRowContext(ctx, query,
		nullString(c.PhoneNumber), nullString(c.Email), nullInt64(c.LinkedID),
		string(c.LinkPrecedence), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}

	c.ID = id
	return nil
}

// FindByComponent gets the primary contact and all secondary contacts
func (r *ContactRepository) FindByComponent(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE (id = $1 OR linked_id = $2) AND deleted_at IS NULL
			  ORDER BY created_at ASC, id ASC`
	return r.queryContacts(ctx, query, primaryID, primaryID)
}

// Get retrieves a contact by id
func (r *ContactRepository) Get(ctx context.Context, id int64) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE id = $1 AND deleted_at IS NULL`
	contacts, err := r.queryContacts(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, fmt.Errorf("contact %d: %w", id, models.ErrContactNotFound)
	}
	return contacts[0], nil
}

// queryContacts executes a query and returns contacts
func (r *ContactRepository) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}

func scanContact(rows *sql.Rows) (*models.Contact, error) {
	c := &models.Contact{}
	var phone, email sql.NullString
	var linkedID sql.NullInt64
	var precedence string
	var deletedAt sql.NullTime

	err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}

	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if !c.LinkPrecedence.Valid() {
		return nil, fmt.Errorf("contact %d has invalid link precedence %q", c.ID, precedence)
	}
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if email.Valid {
		c.Email = &email.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}
