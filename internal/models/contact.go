package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// LinkPrecedence marks a contact as the canonical record of its group or as one merged into it
type LinkPrecedence string

const (
	Primary   LinkPrecedence = "primary"
	Secondary LinkPrecedence = "secondary"
)

// Valid reports whether p is one of the known precedences
func (p LinkPrecedence) Valid() bool {
	return p == Primary || p == Secondary
}

// Contact represents a customer contact in the database
type Contact struct {
	ID             int64          `json:"id"`
	PhoneNumber    *string        `json:"phoneNumber"`
	Email          *string        `json:"email"`
	LinkedID       *int64         `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt"`
}

// IsPrimary reports whether the contact is flagged primary
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == Primary
}

// LinkedTo reports whether the contact is a secondary pointing at id
func (c *Contact) LinkedTo(id int64) bool {
	return c.LinkPrecedence == Secondary && c.LinkedID != nil && *c.LinkedID == id
}

// Before orders contacts by creation time, then by id
func (c *Contact) Before(other *Contact) bool {
	if c.CreatedAt.Equal(other.CreatedAt) {
		return c.ID < other.ID
	}
	return c.CreatedAt.Before(other.CreatedAt)
}

// IdentifyRequest represents the incoming request body
type IdentifyRequest struct {
	Email       *string      `json:"email"`
	PhoneNumber *PhoneNumber `json:"phoneNumber"`
}

// Phone returns the phone number as a plain string pointer
func (r IdentifyRequest) Phone() *string {
	if r.PhoneNumber == nil {
		return nil
	}
	s := string(*r.PhoneNumber)
	return &s
}

// PhoneNumber accepts both JSON strings and JSON numbers, since clients commonly send
// phone numbers as integers.
type PhoneNumber string

// UnmarshalJSON implements [json.Unmarshaler]
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	case 'n':
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number: %w", err)
	}
	*p = PhoneNumber(n.String())
	return nil
}

// ContactResponse represents the contact data in the response.
// The primaryContatctId spelling is part of the public contract.
type ContactResponse struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse represents the response body
type IdentifyResponse struct {
	Contact ContactResponse `json:"contact"`
}

// ErrorResponse is the body written for failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}
