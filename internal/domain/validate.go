package domain

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// ValidationResult carries field-shape failures back to the caller as data.
// Validation problems are never returned as Go errors; errors are reserved
// for infrastructure failures.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors,omitempty"`
}

var (
	// Syntactic RFC-like pattern. Deliverability is not checked here.
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	// Letters (incl. accented), spaces, and common name punctuation.
	namePattern = regexp.MustCompile(`^[\p{L}\s.'-]+$`)
)

// ValidateEmail checks the syntactic shape and length bounds of an email.
func ValidateEmail(email string) ValidationResult {
	var errs []string
	if len(email) < 5 || len(email) > 254 {
		errs = append(errs, fmt.Sprintf("email must be between 5 and 254 characters, got %d", len(email)))
	}
	if !emailPattern.MatchString(email) {
		errs = append(errs, "email format is invalid")
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// ValidateName checks the length and charset of a subscriber name.
// Length is counted in runes so accented names are not penalized for
// their UTF-8 encoding.
func ValidateName(name string) ValidationResult {
	var errs []string
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		errs = append(errs, fmt.Sprintf("name must be between 1 and 100 characters, got %d", n))
	} else if !namePattern.MatchString(name) {
		errs = append(errs, "name contains invalid characters")
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// ValidateSubscription validates the full subscription form payload.
func ValidateSubscription(name, email string) ValidationResult {
	nameRes := ValidateName(name)
	emailRes := ValidateEmail(email)
	errs := append(nameRes.Errors, emailRes.Errors...)
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}
