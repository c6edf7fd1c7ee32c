package entity

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account types distinguish people from organisations.
const (
	AccountTypeIndividual = "individual"
	AccountTypeCompany    = "company"
)

// Consent states a contact can be in.
const (
	ConsentUnknown      = "unknown"
	ConsentConsented    = "consented"
	ConsentUnsubscribed = "unsubscribed"
)

var (
	emailPattern  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]{2,}$`)
	mobilePattern = regexp.MustCompile(`^[\d\-\+\(\)\s]+$`)
)

// Contact is a deduplicated person or company record in the address book.
type Contact struct {
	ID             uuid.UUID  `json:"id"`
	Email          *string    `json:"email,omitempty"`
	MobileNumber   *string    `json:"mobile_number,omitempty"`
	AccountType    string     `json:"account_type"`
	FullName       *string    `json:"full_name,omitempty"`
	CompanyName    *string    `json:"company_name,omitempty"`
	Role           *string    `json:"role,omitempty"`
	Country        *string    `json:"country,omitempty"`
	City           *string    `json:"city,omitempty"`
	Source         *string    `json:"source,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Tags           []string   `json:"tags"`
	ConsentStatus  string     `json:"consent_status"`
	Bounced        bool       `json:"bounced"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Normalize cleans the record in place: e-mail lowercased, strings trimmed,
// tags lowercased and deduplicated. Phone formatting lives in the service
// layer where the phonenumbers library is available.
func (c *Contact) Normalize() {
	c.Email = normalizeOptional(c.Email, func(v string) string { return strings.ToLower(v) })
	c.MobileNumber = normalizeOptional(c.MobileNumber, nil)
	c.FullName = normalizeOptional(c.FullName, nil)
	c.CompanyName = normalizeOptional(c.CompanyName, nil)
	c.Role = normalizeOptional(c.Role, nil)
	c.Country = normalizeOptional(c.Country, nil)
	c.City = normalizeOptional(c.City, nil)
	c.Source = normalizeOptional(c.Source, nil)
	c.Notes = normalizeOptional(c.Notes, nil)
	c.Tags = NormalizeTags(c.Tags)

	if c.ConsentStatus == "" {
		c.ConsentStatus = ConsentUnknown
	}
	if c.AccountType == "" {
		if c.CompanyName != nil {
			c.AccountType = AccountTypeCompany
		} else {
			c.AccountType = AccountTypeIndividual
		}
	}
}

// Validate returns human-readable validation messages; an empty slice means
// the record is acceptable. Email uniqueness is enforced at the database.
func (c *Contact) Validate() []string {
	var msgs []string

	if c.Email != nil && !emailPattern.MatchString(*c.Email) {
		msgs = append(msgs, "invalid email format")
	}
	if c.MobileNumber != nil && !mobilePattern.MatchString(*c.MobileNumber) {
		msgs = append(msgs, "invalid mobile number format")
	}
	if c.Email == nil && c.MobileNumber == nil {
		msgs = append(msgs, "either email or mobile number is required")
	}
	switch c.AccountType {
	case AccountTypeIndividual:
		if c.FullName == nil {
			msgs = append(msgs, "full name is required for individual contacts")
		}
	case AccountTypeCompany:
		if c.CompanyName == nil {
			msgs = append(msgs, "company name is required for company contacts")
		}
	default:
		msgs = append(msgs, "invalid account type")
	}

	return msgs
}

// DisplayName prefers the company name for company accounts.
func (c *Contact) DisplayName() string {
	if c.AccountType == AccountTypeCompany && c.CompanyName != nil {
		return *c.CompanyName
	}
	if c.FullName != nil {
		return *c.FullName
	}
	return c.PrimaryIdentifier()
}

// PrimaryIdentifier returns the e-mail when present, otherwise the mobile number.
func (c *Contact) PrimaryIdentifier() string {
	if c.Email != nil {
		return *c.Email
	}
	if c.MobileNumber != nil {
		return *c.MobileNumber
	}
	return ""
}

// ValidEmail reports whether the value looks like an e-mail address.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(value)
}

// PlausibleMobile reports whether the value contains only digits, spaces
// and the characters + - ( ).
func PlausibleMobile(value string) bool {
	return mobilePattern.MatchString(value)
}

// NormalizeTags trims, lowercases, drops empties and deduplicates while
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeOptional(value *string, transform func(string) string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	if transform != nil {
		v = transform(v)
	}
	return &v
}
