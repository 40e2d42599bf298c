package domain

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{"simple", "alice@example.com", true},
		{"subdomain", "bob@mail.meridian.vc", true},
		{"plus tag", "carol+news@example.com", true},
		{"dot local", "first.last@example.org", true},
		{"uppercase", "ALICE@EXAMPLE.COM", true},
		{"empty", "", false},
		{"missing at", "alice.example.com", false},
		{"missing domain", "alice@", false},
		{"missing tld", "alice@example", false},
		{"one char tld", "alice@example.c", false},
		{"spaces", "alice @example.com", false},
		{"too short", "a@b.", false},
		{"too long", strings.Repeat("a", 250) + "@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateEmail(tt.email)
			if res.IsValid != tt.valid {
				t.Errorf("ValidateEmail(%q).IsValid = %v, want %v (errors: %v)", tt.email, res.IsValid, tt.valid, res.Errors)
			}
			if !res.IsValid && len(res.Errors) == 0 {
				t.Errorf("invalid result must carry at least one error message")
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"plain", "Alice Chen", true},
		{"apostrophe", "Seán O'Brien", true},
		{"hyphen", "Jean-Luc Picard", true},
		{"accents", "José Núñez", true},
		{"empty", "", false},
		{"digits", "Alice123", false},
		{"angle brackets", "<script>", false},
		{"too long", strings.Repeat("x", 101), false},
		{"accented 60 runes", strings.Repeat("é", 60), true},
		{"accented 101 runes", strings.Repeat("é", 101), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateName(tt.input)
			if res.IsValid != tt.valid {
				t.Errorf("ValidateName(%q).IsValid = %v, want %v (errors: %v)", tt.input, res.IsValid, tt.valid, res.Errors)
			}
		})
	}
}

func TestValidateSubscriptionCollectsAllErrors(t *testing.T) {
	res := ValidateSubscription("", "not-an-email")
	if res.IsValid {
		t.Fatal("expected invalid result")
	}
	if len(res.Errors) < 2 {
		t.Fatalf("expected errors for both fields, got %v", res.Errors)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
