package dto

// ContactFilter contains query parameters for contact listing endpoints.
type ContactFilter struct {
	Q             string
	AccountType   string
	ConsentStatus string
	Tag           string
	Bounced       *bool
	Page          int
	PerPage       int
}

// ContactRequest captures create/update payloads for contacts. Pointer
// fields distinguish "absent" from "set to empty" on partial updates.
type ContactRequest struct {
	Email         *string  `json:"email,omitempty"`
	MobileNumber  *string  `json:"mobile_number,omitempty"`
	FullName      *string  `json:"full_name,omitempty"`
	CompanyName   *string  `json:"company_name,omitempty"`
	Role          *string  `json:"role,omitempty"`
	Country       *string  `json:"country,omitempty"`
	City          *string  `json:"city,omitempty"`
	Source        *string  `json:"source,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	AccountType   *string  `json:"account_type,omitempty"`
	ConsentStatus *string  `json:"consent_status,omitempty"`
}
