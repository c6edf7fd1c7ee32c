package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/reachforge/crm-api/internal/dto"
	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/repository"
)

const defaultPhoneRegion = "US"

// ImportAction result aliases, re-exported for callers that only import
// the service package.
const (
	ActionCreated = entity.ActionCreated
	ActionUpdated = entity.ActionUpdated
	ActionSkipped = entity.ActionSkipped
	ActionError   = entity.ActionError
)

// ImportResult reports what ImportFromRow did with a single row.
type ImportResult struct {
	Action  entity.ImportAction
	Contact *entity.Contact
	Errors  []string
}

// ContactsService owns contact CRUD and the row upsert used by imports.
type ContactsService struct {
	repo        repository.ContactsRepository
	phoneRegion string
}

// NewContactsService wires the service over a repository. The region is
// the default country used when parsing phone numbers without a prefix.
func NewContactsService(repo repository.ContactsRepository, phoneRegion string) *ContactsService {
	region := strings.ToUpper(strings.TrimSpace(phoneRegion))
	if region == "" {
		region = defaultPhoneRegion
	}
	return &ContactsService{repo: repo, phoneRegion: region}
}

// ImportFromRow upserts one mapped CSV row. Duplicate detection matches
// on case-insensitive e-mail or exact mobile number. When a duplicate is
// found: with UpdateExisting the existing contact is merged and updated,
// otherwise the row is skipped. Validation failures and duplicate-email
// conflicts come back as ActionError with row messages; infrastructure
// failures are returned as the error.
func (s *ContactsService) ImportFromRow(ctx context.Context, row RowData, opts entity.ImportOptions) (ImportResult, error) {
	incoming := s.contactFromRow(row)

	existing, err := s.repo.FindDuplicate(ctx, incoming.Email, incoming.MobileNumber)
	if err != nil && !errors.Is(err, repository.ErrContactNotFound) {
		return ImportResult{Action: entity.ActionError}, fmt.Errorf("find duplicate: %w", err)
	}

	if existing != nil {
		if !opts.UpdateExisting {
			return ImportResult{Action: entity.ActionSkipped, Contact: existing}, nil
		}
		mergeContact(existing, incoming, opts.OverrideExisting)
		existing.Normalize()
		if msgs := existing.Validate(); len(msgs) > 0 {
			return ImportResult{Action: entity.ActionError, Errors: msgs}, nil
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			if errors.Is(err, repository.ErrEmailTaken) {
				return ImportResult{Action: entity.ActionError, Errors: []string{"Email already exists"}}, nil
			}
			return ImportResult{Action: entity.ActionError}, fmt.Errorf("update contact: %w", err)
		}
		return ImportResult{Action: entity.ActionUpdated, Contact: existing}, nil
	}

	incoming.Normalize()
	if msgs := incoming.Validate(); len(msgs) > 0 {
		return ImportResult{Action: entity.ActionError, Errors: msgs}, nil
	}
	if err := s.repo.Create(ctx, incoming); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return ImportResult{Action: entity.ActionError, Errors: []string{"Email already exists"}}, nil
		}
		return ImportResult{Action: entity.ActionError}, fmt.Errorf("create contact: %w", err)
	}
	return ImportResult{Action: entity.ActionCreated, Contact: incoming}, nil
}

// contactFromRow lifts the mapped row into a contact entity, parsing the
// mobile number to E.164 when it is a valid number for the region.
func (s *ContactsService) contactFromRow(row RowData) *entity.Contact {
	contact := &entity.Contact{
		Email:         optional(row.Email),
		MobileNumber:  optional(s.normalizeMobile(row.MobileNumber)),
		FullName:      optional(row.FullName),
		CompanyName:   optional(row.CompanyName),
		Role:          optional(row.Role),
		Country:       optional(row.Country),
		City:          optional(row.City),
		Source:        optional(row.Source),
		Notes:         optional(row.Notes),
		ConsentStatus: row.ConsentStatus,
		Tags:          entity.NormalizeTags(row.Tags),
	}
	return contact
}

// normalizeMobile formats valid numbers as E.164 and otherwise returns
// the input with separator characters stripped, so imports keep whatever
// the source held rather than dropping it.
func (s *ContactsService) normalizeMobile(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	number, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err == nil && phonenumbers.IsPossibleNumber(number) && phonenumbers.IsValidNumber(number) {
		return phonenumbers.Format(number, phonenumbers.E164)
	}
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, raw)
	return stripped
}

// mergeContact folds incoming values into an existing contact. A field is
// taken from the incoming row only when it is non-blank, and only when
// the existing field is blank unless override is set. Tags are always
// unioned regardless of override.
func mergeContact(existing, incoming *entity.Contact, override bool) {
	mergeOptional(&existing.Email, incoming.Email, override)
	mergeOptional(&existing.MobileNumber, incoming.MobileNumber, override)
	mergeOptional(&existing.FullName, incoming.FullName, override)
	mergeOptional(&existing.CompanyName, incoming.CompanyName, override)
	mergeOptional(&existing.Role, incoming.Role, override)
	mergeOptional(&existing.Country, incoming.Country, override)
	mergeOptional(&existing.City, incoming.City, override)
	mergeOptional(&existing.Source, incoming.Source, override)
	mergeOptional(&existing.Notes, incoming.Notes, override)

	if incoming.ConsentStatus != "" && incoming.ConsentStatus != entity.ConsentUnknown {
		if existing.ConsentStatus == "" || existing.ConsentStatus == entity.ConsentUnknown || override {
			existing.ConsentStatus = incoming.ConsentStatus
		}
	}

	existing.Tags = entity.NormalizeTags(append(existing.Tags, incoming.Tags...))
}

func mergeOptional(dst **string, src *string, override bool) {
	if src == nil || strings.TrimSpace(*src) == "" {
		return
	}
	if *dst == nil || strings.TrimSpace(**dst) == "" || override {
		value := *src
		*dst = &value
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// List returns contacts matching the filter.
func (s *ContactsService) List(ctx context.Context, filter dto.ContactFilter) ([]entity.Contact, error) {
	return s.repo.List(ctx, filter)
}

// Get fetches one contact.
func (s *ContactsService) Get(ctx context.Context, id uuid.UUID) (*entity.Contact, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a contact supplied through the API.
func (s *ContactsService) Create(ctx context.Context, req dto.ContactRequest) (*entity.Contact, []string, error) {
	contact := contactFromRequest(&entity.Contact{}, req)
	contact.Normalize()
	if msgs := contact.Validate(); len(msgs) > 0 {
		return nil, msgs, nil
	}
	if err := s.repo.Create(ctx, contact); err != nil {
		return nil, nil, err
	}
	return contact, nil, nil
}

// Update applies an API payload to an existing contact.
func (s *ContactsService) Update(ctx context.Context, id uuid.UUID, req dto.ContactRequest) (*entity.Contact, []string, error) {
	contact, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	contact = contactFromRequest(contact, req)
	contact.Normalize()
	if msgs := contact.Validate(); len(msgs) > 0 {
		return nil, msgs, nil
	}
	if err := s.repo.Update(ctx, contact); err != nil {
		return nil, nil, err
	}
	return contact, nil, nil
}

// Delete removes a contact.
func (s *ContactsService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Unsubscribe moves the contact with the e-mail to the unsubscribed
// consent state.
func (s *ContactsService) Unsubscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email is required")
	}
	return s.repo.UpdateConsentByEmail(ctx, email, entity.ConsentUnsubscribed)
}

// contactFromRequest overlays the request onto the contact. Request
// fields are pointers so absent fields leave the contact untouched.
func contactFromRequest(contact *entity.Contact, req dto.ContactRequest) *entity.Contact {
	assign := func(dst **string, src *string) {
		if src != nil {
			value := strings.TrimSpace(*src)
			if value == "" {
				*dst = nil
			} else {
				*dst = &value
			}
		}
	}
	assign(&contact.Email, req.Email)
	assign(&contact.MobileNumber, req.MobileNumber)
	assign(&contact.FullName, req.FullName)
	assign(&contact.CompanyName, req.CompanyName)
	assign(&contact.Role, req.Role)
	assign(&contact.Country, req.Country)
	assign(&contact.City, req.City)
	assign(&contact.Source, req.Source)
	assign(&contact.Notes, req.Notes)
	if req.AccountType != nil {
		contact.AccountType = strings.TrimSpace(*req.AccountType)
	}
	if req.ConsentStatus != nil {
		contact.ConsentStatus = strings.TrimSpace(*req.ConsentStatus)
	}
	if req.Tags != nil {
		contact.Tags = entity.NormalizeTags(req.Tags)
	}
	return contact
}
