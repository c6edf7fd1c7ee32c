package service

import (
	"reflect"
	"testing"

	"github.com/reachforge/crm-api/internal/entity"
)

func TestMapRow(t *testing.T) {
	mapping := map[string]string{
		"Email":      "email",
		"First Name": "first_name",
		"Last Name":  "last_name",
		"Company":    "company_name",
		"Tags":       "tags",
		"Internal":   "ignore",
		"Unmapped":   "",
	}
	raw := map[string]string{
		"Email":      "  alice@example.com ",
		"First Name": "Alice",
		"Last Name":  "Smith",
		"Company":    "",
		"Tags":       "VIP, lead; vip",
		"Internal":   "secret",
		"Unmapped":   "noise",
	}

	row := MapRow(raw, mapping, entity.ImportOptions{})

	if row.Email != "alice@example.com" {
		t.Fatalf("expected trimmed email, got %q", row.Email)
	}
	if row.FullName != "Alice Smith" {
		t.Fatalf("expected synthesized full name, got %q", row.FullName)
	}
	if row.CompanyName != "" {
		t.Fatalf("expected blank company to stay absent")
	}
	if !reflect.DeepEqual(row.Tags, []string{"VIP", "lead", "vip"}) {
		t.Fatalf("unexpected tags: %v", row.Tags)
	}
	if row.Notes != "" || row.Source != "" {
		t.Fatalf("ignored and unmapped columns must not leak")
	}
}

func TestMapRowFullNameColumnWins(t *testing.T) {
	mapping := map[string]string{
		"Name":  "full_name",
		"First": "first_name",
		"Last":  "last_name",
	}
	raw := map[string]string{"Name": "Alice B. Smith", "First": "Alice", "Last": "Smith"}

	row := MapRow(raw, mapping, entity.ImportOptions{})
	if row.FullName != "Alice B. Smith" {
		t.Fatalf("mapped full_name must win over synthesis, got %q", row.FullName)
	}
}

func TestMapRowAppliesDefaults(t *testing.T) {
	mapping := map[string]string{"Email": "email"}
	raw := map[string]string{"Email": "a@b.co"}
	opts := entity.ImportOptions{
		DefaultConsent: entity.ConsentConsented,
		DefaultSource:  "spring-campaign",
		DefaultTags:    []string{"imported"},
	}

	row := MapRow(raw, mapping, opts)
	if row.ConsentStatus != entity.ConsentConsented {
		t.Fatalf("expected default consent, got %q", row.ConsentStatus)
	}
	if row.Source != "spring-campaign" {
		t.Fatalf("expected default source, got %q", row.Source)
	}
	if !reflect.DeepEqual(row.Tags, []string{"imported"}) {
		t.Fatalf("expected default tags, got %v", row.Tags)
	}

	// Row values win over defaults.
	mapping["Consent"] = "consent_status"
	mapping["Source"] = "source"
	raw["Consent"] = entity.ConsentUnknown
	raw["Source"] = "manual"
	row = MapRow(raw, mapping, opts)
	if row.ConsentStatus != entity.ConsentUnknown || row.Source != "manual" {
		t.Fatalf("row values must win over defaults: %+v", row)
	}
}

func TestValidateMapping(t *testing.T) {
	good := map[string]string{"Email": "email", "Extra": "ignore", "Blank": ""}
	if err := ValidateMapping(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := map[string]string{"Email": "email", "Foo": "shoe_size"}
	if err := ValidateMapping(bad); err == nil {
		t.Fatalf("expected error for unknown target field")
	}
}

func TestSuggestMapping(t *testing.T) {
	tests := map[string]string{
		"Email Address":  "email",
		"E-mail":         "email",
		"Mobile Number":  "mobile_number",
		"Phone":          "mobile_number",
		"Cell":           "mobile_number",
		"Company":        "company_name",
		"Organization":   "company_name",
		"First Name":     "first_name",
		"Last Name":      "last_name",
		"Surname":        "last_name",
		"Full Name":      "full_name",
		"Contact Name":   "full_name",
		"Job Title":      "role",
		"Position":       "role",
		"Country":        "country",
		"City":           "city",
		"Lead Source":    "source",
		"Tags":           "tags",
		"Notes/Comments": "notes",
		"Description":    "notes",
		"Foo":            "ignore",
	}

	headers := make([]string, 0, len(tests))
	for header := range tests {
		headers = append(headers, header)
	}
	mapping := SuggestMapping(headers)

	for header, want := range tests {
		if got := mapping[header]; got != want {
			t.Errorf("%q: expected %q, got %q", header, want, got)
		}
	}
}

func TestSplitTags(t *testing.T) {
	got := SplitTags("a, b; c,,  d ")
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if SplitTags("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
