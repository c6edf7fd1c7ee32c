package service

import (
	"context"
	"reflect"
	"testing"
)

func TestRowValidatorCheck(t *testing.T) {
	repo := &mockContactsRepo{
		emailExistsFn: func(ctx context.Context, email string) (bool, error) {
			return email == "taken@example.com", nil
		},
	}
	validator := NewRowValidator(repo)

	tests := map[string]struct {
		row          RowData
		wantStatus   string
		wantErrors   []string
		wantWarnings []string
	}{
		"clean row": {
			row:        RowData{Email: "new@example.com", FullName: "Alice"},
			wantStatus: RowStatusOK,
		},
		"invalid email": {
			row:        RowData{Email: "not-an-email", FullName: "Alice"},
			wantStatus: RowStatusError,
			wantErrors: []string{"Invalid email format"},
		},
		"duplicate email warns": {
			row:          RowData{Email: "taken@example.com", FullName: "Alice"},
			wantStatus:   RowStatusWarning,
			wantWarnings: []string{"Email already exists"},
		},
		"dubious mobile warns": {
			row:          RowData{Email: "new@example.com", FullName: "Alice", MobileNumber: "call me"},
			wantStatus:   RowStatusWarning,
			wantWarnings: []string{"Mobile number format may be invalid"},
		},
		"no identifier": {
			row:        RowData{FullName: "Alice"},
			wantStatus: RowStatusError,
			wantErrors: []string{"Either email or mobile number is required"},
		},
		"no name": {
			row:        RowData{Email: "new@example.com"},
			wantStatus: RowStatusError,
			wantErrors: []string{"Either company name or full name is required"},
		},
		"multiple errors": {
			row:        RowData{},
			wantStatus: RowStatusError,
			wantErrors: []string{
				"Either email or mobile number is required",
				"Either company name or full name is required",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			check := validator.Check(context.Background(), 1, tc.row)
			if check.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, check.Status)
			}
			if !reflect.DeepEqual(check.Errors, tc.wantErrors) {
				t.Fatalf("expected errors %v, got %v", tc.wantErrors, check.Errors)
			}
			if !reflect.DeepEqual(check.Warnings, tc.wantWarnings) {
				t.Fatalf("expected warnings %v, got %v", tc.wantWarnings, check.Warnings)
			}
			if check.RowNumber != 1 {
				t.Fatalf("expected row number carried through")
			}
		})
	}
}

func TestEmailLooksValid(t *testing.T) {
	valid := []string{"a@b.co", "first.last+tag@sub.example.com"}
	for _, email := range valid {
		if !emailLooksValid(email) {
			t.Errorf("expected %q to be valid", email)
		}
	}

	invalid := []string{"plain", "a@b", "a b@c.com", "a@-bad-.com"}
	for _, email := range invalid {
		if emailLooksValid(email) {
			t.Errorf("expected %q to be invalid", email)
		}
	}
}
