package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/idna"

	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/repository"
)

// Row check statuses as surfaced in preview responses.
const (
	RowStatusOK      = "ok"
	RowStatusWarning = "warning"
	RowStatusError   = "error"
)

// RowCheck is the preview verdict for a single CSV row.
type RowCheck struct {
	RowNumber int      `json:"row_number"`
	Status    string   `json:"status"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Data      RowData  `json:"data"`
}

// RowValidator produces preview verdicts without touching contact rows.
type RowValidator struct {
	contacts repository.ContactsRepository
}

// NewRowValidator wires a validator over the contacts repository.
func NewRowValidator(contacts repository.ContactsRepository) *RowValidator {
	return &RowValidator{contacts: contacts}
}

// Check validates one mapped row. Errors block the row from importing;
// warnings flag rows that will import but may update an existing contact
// or carry a dubious phone number.
func (v *RowValidator) Check(ctx context.Context, rowNumber int, row RowData) RowCheck {
	check := RowCheck{RowNumber: rowNumber, Status: RowStatusOK, Data: row}

	if row.Email == "" && row.MobileNumber == "" {
		check.Errors = append(check.Errors, "Either email or mobile number is required")
	}
	if row.CompanyName == "" && row.FullName == "" {
		check.Errors = append(check.Errors, "Either company name or full name is required")
	}

	if row.Email != "" {
		if !emailLooksValid(row.Email) {
			check.Errors = append(check.Errors, "Invalid email format")
		} else if v.contacts != nil {
			exists, err := v.contacts.EmailExists(ctx, row.Email)
			if err != nil {
				check.Errors = append(check.Errors, fmt.Sprintf("could not check email: %v", err))
			} else if exists {
				check.Warnings = append(check.Warnings, "Email already exists")
			}
		}
	}

	if row.MobileNumber != "" && !entity.PlausibleMobile(row.MobileNumber) {
		check.Warnings = append(check.Warnings, "Mobile number format may be invalid")
	}

	switch {
	case len(check.Errors) > 0:
		check.Status = RowStatusError
	case len(check.Warnings) > 0:
		check.Status = RowStatusWarning
	}
	return check
}

// emailLooksValid layers an IDNA domain check on top of the shape check so
// internationalized domains pass while malformed ones do not.
func emailLooksValid(email string) bool {
	if !entity.ValidEmail(email) {
		return false
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	if _, err := idna.Lookup.ToASCII(email[at+1:]); err != nil {
		return false
	}
	return true
}
