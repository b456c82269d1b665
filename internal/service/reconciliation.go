package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dawgdevv/identity-reconciliation/internal/logging"
	"github.com/dawgdevv/identity-reconciliation/internal/models"
)

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store  models.Store
	logger *log.Logger
	now    func() time.Time
}

// Option configures a [ReconciliationService]
type Option func(*ReconciliationService)

// WithLogger sets the logger used when the request context carries none
func WithLogger(l *log.Logger) Option {
	return func(s *ReconciliationService) {
		s.logger = l
	}
}

// WithClock replaces time.Now for timestamps written by the service
func WithClock(now func() time.Time) Option {
	return func(s *ReconciliationService) {
		s.now = now
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store models.Store, opts ...Option) *ReconciliationService {
	s := &ReconciliationService{
		store:  store,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of one reconciliation
type Result struct {
	Contact models.ContactResponse

	// Created is set when the observation was stored as a new contact
	Created bool

	// Relinked counts existing contacts whose precedence or link target was rewritten
	Relinked int
}

// Identify handles the identity reconciliation logic for an HTTP request body
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	result, err := s.Reconcile(ctx, req.Email, req.Phone())
	if err != nil {
		return nil, err
	}
	return &models.IdentifyResponse{Contact: result.Contact}, nil
}

// Reconcile links an (email, phone) observation into the contact graph and returns the
// consolidated view of the group it belongs to.
//
// All reads and writes happen in one store transaction. Values are matched exactly as given
// and only empty strings count as absent; with both absent the call fails with
// [ErrInvalidInput] before touching the store.
// Store failures are returned as [*StorageError].
func (s *ReconciliationService) Reconcile(ctx context.Context, email, phone *string) (*Result, error) {
	email, phone = normalize(email), normalize(phone)
	if email == nil && phone == nil {
		return nil, fmt.Errorf("either email or phoneNumber must be provided: %w", ErrInvalidInput)
	}

	var result *Result
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo models.ContactRepository) error {
		var err error
		result, err = s.reconcile(ctx, repo, email, phone)
		return err
	})
	if err != nil {
		return nil, storageErr("reconcile", err)
	}

	logging.FromContext(ctx, s.logger).Info("reconciled contact",
		"primary_id", result.Contact.PrimaryContactID,
		"created", result.Created,
		"relinked", result.Relinked,
		"secondaries", len(result.Contact.SecondaryContactIDs),
	)
	return result, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, repo models.ContactRepository, email, phone *string) (*Result, error) {
	logger := logging.FromContext(ctx, s.logger)
	now := s.now().UTC()
	result := &Result{}

	matches, err := repo.FindMatching(ctx, email, phone)
	if err != nil {
		return nil, storageErr("find matching contacts", err)
	}
	logger.Debug("direct matches", "count", len(matches))

	var primaryID int64

	if len(matches) == 0 {
		// First sighting: the observation starts its own group
		c := &models.Contact{
			Email:          email,
			PhoneNumber:    phone,
			LinkPrecedence: models.Primary,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := repo.Insert(ctx, c); err != nil {
			return nil, storageErr("create primary contact", err)
		}
		primaryID = c.ID
		result.Created = true
	} else {
		group, err := expandComponent(ctx, repo, matches)
		if err != nil {
			return nil, err
		}

		primary := electPrimary(group)
		primaryID = primary.ID
		logger.Debug("elected primary", "primary_id", primaryID, "group_size", len(group))

		result.Relinked, err = s.relink(ctx, repo, group, primary, now)
		if err != nil {
			return nil, err
		}

		if !represented(group, email, phone) {
			c := &models.Contact{
				Email:          email,
				PhoneNumber:    phone,
				LinkedID:       &primaryID,
				LinkPrecedence: models.Secondary,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := repo.Insert(ctx, c); err != nil {
				return nil, storageErr("create secondary contact", err)
			}
			result.Created = true
			logger.Debug("created secondary contact", "contact_id", c.ID, "primary_id", primaryID)
		}
	}

	members, err := repo.FindByComponent(ctx, primaryID)
	if err != nil {
		return nil, storageErr("load contact group", err)
	}

	result.Contact, err = summarize(primaryID, members)
	if err != nil {
		return nil, storageErr("summarize contact group", err)
	}
	return result, nil
}

// Lookup returns the consolidated view of the group that contains contact id
func (s *ReconciliationService) Lookup(ctx context.Context, id int64) (*models.IdentifyResponse, error) {
	var resp *models.IdentifyResponse
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo models.ContactRepository) error {
		c, err := repo.Get(ctx, id)
		if errors.Is(err, models.ErrContactNotFound) {
			return fmt.Errorf("contact %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return storageErr("get contact", err)
		}

		primaryID := c.ID
		if !c.IsPrimary() && c.LinkedID != nil {
			primaryID = *c.LinkedID
		}

		members, err := repo.FindByComponent(ctx, primaryID)
		if err != nil {
			return storageErr("load contact group", err)
		}

		contact, err := summarize(primaryID, members)
		if err != nil {
			return storageErr("summarize contact group", err)
		}
		resp = &models.IdentifyResponse{Contact: contact}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageErr("lookup", err)
	}
	return resp, nil
}

// expandComponent follows link pointers from the seed contacts until no new contacts turn
// up, so a chain left behind by inconsistent data is collected in full rather than cut
// after one hop. The result is ordered by creation time.
func expandComponent(ctx context.Context, repo models.ContactRepository, seed []*models.Contact) ([]*models.Contact, error) {
	seen := make(map[int64]bool, len(seed))
	var group, frontier []*models.Contact

	add := func(c *models.Contact) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		group = append(group, c)
		frontier = append(frontier, c)
	}

	for _, c := range seed {
		add(c)
	}

	for len(frontier) > 0 {
		c := frontier[0]
		frontier = frontier[1:]

		linked, err := repo.FindLinked(ctx, c)
		if err != nil {
			return nil, storageErr("find linked contacts", err)
		}
		for _, l := range linked {
			add(l)
		}
	}

	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Before(group[j])
	})
	return group, nil
}

// electPrimary picks the earliest contact flagged primary, or the earliest contact overall
// when none is flagged. group must be non-empty.
//
// When a merge brings several flagged primaries together the earliest of them wins by
// (created_at, id), even if an older secondary exists in the group. A flagged primary is
// never outranked by a secondary.
func electPrimary(group []*models.Contact) *models.Contact {
	var elected *models.Contact
	for _, c := range group {
		if c.IsPrimary() && (elected == nil || c.Before(elected)) {
			elected = c
		}
	}
	if elected != nil {
		return elected
	}

	elected = group[0]
	for _, c := range group[1:] {
		if c.Before(elected) {
			elected = c
		}
	}
	return elected
}

// relink makes primary the only primary of group and points every other member at it.
// Members already linked to primary are left untouched.
func (s *ReconciliationService) relink(ctx context.Context, repo models.ContactRepository, group []*models.Contact, primary *models.Contact, now time.Time) (int, error) {
	logger := logging.FromContext(ctx, s.logger)
	relinked := 0

	if !primary.IsPrimary() || primary.LinkedID != nil {
		logger.Warn("promoting contact of a group without a primary", "contact_id", primary.ID)
		if err := repo.UpdateLink(ctx, primary.ID, models.Primary, nil, now); err != nil {
			return relinked, storageErr("promote contact", err)
		}
		primary.LinkPrecedence = models.Primary
		primary.LinkedID = nil
		primary.UpdatedAt = now
		relinked++
	}

	for _, c := range group {
		if c.ID == primary.ID || c.LinkedTo(primary.ID) {
			continue
		}

		if c.LinkPrecedence == models.Secondary && c.LinkedID != nil {
			logger.Warn("repointing secondary contact at elected primary",
				"contact_id", c.ID, "linked_id", *c.LinkedID, "primary_id", primary.ID)
		}

		if err := repo.UpdateLink(ctx, c.ID, models.Secondary, &primary.ID, now); err != nil {
			return relinked, storageErr("demote contact", err)
		}
		c.LinkPrecedence = models.Secondary
		c.LinkedID = &primary.ID
		c.UpdatedAt = now
		relinked++
	}

	return relinked, nil
}

// represented reports whether some contact in group already carries exactly this
// observation. An absent value matches anything.
func represented(group []*models.Contact, email, phone *string) bool {
	for _, c := range group {
		if (email == nil || equal(c.Email, email)) && (phone == nil || equal(c.PhoneNumber, phone)) {
			return true
		}
	}
	return false
}

// summarize builds the response for a group. The primary's own email and phone number
// lead their lists.
func summarize(primaryID int64, members []*models.Contact) (models.ContactResponse, error) {
	resp := models.ContactResponse{
		PrimaryContactID:    primaryID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	var primary *models.Contact
	for _, c := range members {
		if c.ID == primaryID {
			primary = c
			break
		}
	}
	if primary == nil {
		return resp, fmt.Errorf("primary contact %d missing from its group", primaryID)
	}

	emails := newUniqueList(&resp.Emails)
	phones := newUniqueList(&resp.PhoneNumbers)

	emails.add(primary.Email)
	phones.add(primary.PhoneNumber)

	for _, c := range members {
		if c.ID == primaryID {
			continue
		}
		emails.add(c.Email)
		phones.add(c.PhoneNumber)
		resp.SecondaryContactIDs = append(resp.SecondaryContactIDs, c.ID)
	}

	return resp, nil
}

// uniqueList appends values to a slice, skipping empties and repeats
type uniqueList struct {
	out  *[]string
	seen map[string]bool
}

func newUniqueList(out *[]string) *uniqueList {
	return &uniqueList{out: out, seen: make(map[string]bool)}
}

func (u *uniqueList) add(v *string) {
	if v == nil || *v == "" || u.seen[*v] {
		return
	}
	u.seen[*v] = true
	*u.out = append(*u.out, *v)
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	if *s == "" {
		return nil
	}
	return s
}

func equal(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}
