package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reachforge/crm-api/internal/entity"
)

// FieldIgnore is the sentinel target that drops a CSV column.
const FieldIgnore = "ignore"

// TargetFields is the closed set of contact fields a CSV column may map
// to. Unknown targets are rejected when the mapping is persisted instead
// of being silently dropped at row time.
var TargetFields = []string{
	"email",
	"mobile_number",
	"full_name",
	"first_name",
	"last_name",
	"company_name",
	"role",
	"country",
	"city",
	"source",
	"tags",
	"notes",
	"consent_status",
}

var targetFieldSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(TargetFields)+1)
	for _, f := range TargetFields {
		set[f] = struct{}{}
	}
	set[FieldIgnore] = struct{}{}
	return set
}()

// RowData is the normalized output of mapping one CSV row. FirstName and
// LastName are intermediates consumed by full-name synthesis; the
// upserter reads FullName only.
type RowData struct {
	Email         string   `json:"email,omitempty"`
	MobileNumber  string   `json:"mobile_number,omitempty"`
	FullName      string   `json:"full_name,omitempty"`
	FirstName     string   `json:"first_name,omitempty"`
	LastName      string   `json:"last_name,omitempty"`
	CompanyName   string   `json:"company_name,omitempty"`
	Role          string   `json:"role,omitempty"`
	Country       string   `json:"country,omitempty"`
	City          string   `json:"city,omitempty"`
	Source        string   `json:"source,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	ConsentStatus string   `json:"consent_status,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ValidateMapping rejects mappings that reference unknown target fields.
func ValidateMapping(mapping map[string]string) error {
	for column, field := range mapping {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := targetFieldSet[field]; !ok {
			return fmt.Errorf("column %q maps to unknown field %q", column, field)
		}
	}
	return nil
}

// MapRow turns a raw CSV row into a RowData using the column mapping and
// import options. Values are trimmed; blank values are treated as absent.
// Columns mapped to "ignore" (or left unmapped) are dropped. Defaults
// from the options fill consent, source and tags only where the row did
// not provide them.
func MapRow(raw map[string]string, mapping map[string]string, opts entity.ImportOptions) RowData {
	var row RowData

	for column, field := range mapping {
		field = strings.TrimSpace(field)
		if field == "" || field == FieldIgnore {
			continue
		}
		value := strings.TrimSpace(raw[column])
		if value == "" {
			continue
		}
		row.set(field, value)
	}

	// A first/last name pair synthesizes full_name unless a mapped
	// full_name column already provided one.
	if row.FullName == "" && (row.FirstName != "" || row.LastName != "") {
		parts := make([]string, 0, 2)
		if row.FirstName != "" {
			parts = append(parts, row.FirstName)
		}
		if row.LastName != "" {
			parts = append(parts, row.LastName)
		}
		row.FullName = strings.Join(parts, " ")
	}

	if row.ConsentStatus == "" && opts.DefaultConsent != "" {
		row.ConsentStatus = opts.DefaultConsent
	}
	if row.Source == "" && opts.DefaultSource != "" {
		row.Source = opts.DefaultSource
	}
	if len(opts.DefaultTags) > 0 {
		row.Tags = unionTags(row.Tags, opts.DefaultTags)
	}

	return row
}

func (r *RowData) set(field, value string) {
	switch field {
	case "email":
		r.Email = value
	case "mobile_number":
		r.MobileNumber = value
	case "full_name":
		r.FullName = value
	case "first_name":
		r.FirstName = value
	case "last_name":
		r.LastName = value
	case "company_name":
		r.CompanyName = value
	case "role":
		r.Role = value
	case "country":
		r.Country = value
	case "city":
		r.City = value
	case "source":
		r.Source = value
	case "notes":
		r.Notes = value
	case "consent_status":
		r.ConsentStatus = value
	case "tags":
		r.Tags = unionTags(r.Tags, SplitTags(value))
	}
}

// SplitTags splits a raw tag cell on commas and semicolons, trims each
// part and drops empties. Case is preserved; contact-level normalization
// lowercases later.
func SplitTags(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' })
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			tags = append(tags, part)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, tag := range existing {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, tag := range incoming {
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

// suggestionRules map header keywords to target fields. Order matters:
// first/last name must win over the generic name rule.
var suggestionRules = []struct {
	pattern *regexp.Regexp
	field   string
}{
	{regexp.MustCompile(`e[-_]?mail`), "email"},
	{regexp.MustCompile(`phone|mobile|cell`), "mobile_number"},
	{regexp.MustCompile(`company|organization|organisation`), "company_name"},
	{regexp.MustCompile(`first.*name`), "first_name"},
	{regexp.MustCompile(`last.*name|surname`), "last_name"},
	{regexp.MustCompile(`name`), "full_name"},
	{regexp.MustCompile(`role|title|position`), "role"},
	{regexp.MustCompile(`country`), "country"},
	{regexp.MustCompile(`city`), "city"},
	{regexp.MustCompile(`source`), "source"},
	{regexp.MustCompile(`tag`), "tags"},
	{regexp.MustCompile(`note|comment|description`), "notes"},
}

// SuggestMapping guesses a column mapping from CSV headers by keyword.
// Unrecognized headers map to "ignore".
func SuggestMapping(headers []string) map[string]string {
	mapping := make(map[string]string, len(headers))
	for _, header := range headers {
		normalized := strings.ToLower(strings.TrimSpace(header))
		mapping[header] = FieldIgnore
		for _, rule := range suggestionRules {
			if rule.pattern.MatchString(normalized) {
				mapping[header] = rule.field
				break
			}
		}
	}
	return mapping
}
